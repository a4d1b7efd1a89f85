package models

import (
	"sort"
	"time"
)

// Settings holds the per-workspace automation toggles.
type Settings struct {
	WorkspaceID                string    `json:"workspace_id"`
	AutoLearningEnabled        bool      `json:"auto_learning_enabled"`
	AutoCreateCategoryRules    bool      `json:"auto_create_category_rules"`
	AutoCreateBeneficiaryRules bool      `json:"auto_create_beneficiary_rules"`
	DisabledBeneficiaries      []string  `json:"disabled_beneficiaries"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings used when a workspace has none stored.
func DefaultSettings(workspaceID string) Settings {
	return Settings{
		WorkspaceID:                workspaceID,
		AutoLearningEnabled:        true,
		AutoCreateCategoryRules:    true,
		AutoCreateBeneficiaryRules: true,
		DisabledBeneficiaries:      []string{},
	}
}

// IsBeneficiaryExcluded reports whether id is excluded from learning.
func (s Settings) IsBeneficiaryExcluded(id string) bool {
	for _, b := range s.DisabledBeneficiaries {
		if b == id {
			return true
		}
	}
	return false
}

// Normalize sorts and de-duplicates the exclusion list.
func (s *Settings) Normalize() {
	seen := make(map[string]struct{}, len(s.DisabledBeneficiaries))
	out := make([]string, 0, len(s.DisabledBeneficiaries))
	for _, b := range s.DisabledBeneficiaries {
		if b == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	sort.Strings(out)
	s.DisabledBeneficiaries = out
}

// LearnField names a transaction field auto-learning observes.
type LearnField string

const (
	LearnCategory    LearnField = "category"
	LearnBeneficiary LearnField = "beneficiary"
)

// IsValid reports whether f is a known learnable field.
func (f LearnField) IsValid() bool {
	return f == LearnCategory || f == LearnBeneficiary
}

// EntityKind returns the kind of entity the field references.
func (f LearnField) EntityKind() EntityKind {
	if f == LearnBeneficiary {
		return EntityBeneficiary
	}
	return EntityCategory
}

// Allows reports whether learning is enabled for field.
func (s Settings) Allows(field LearnField) bool {
	if !s.AutoLearningEnabled {
		return false
	}
	switch field {
	case LearnCategory:
		return s.AutoCreateCategoryRules
	case LearnBeneficiary:
		return s.AutoCreateBeneficiaryRules
	}
	return false
}

// Clone returns a copy of s that does not share the exclusion list.
func (s Settings) Clone() Settings {
	s.DisabledBeneficiaries = append([]string{}, s.DisabledBeneficiaries...)
	return s
}
