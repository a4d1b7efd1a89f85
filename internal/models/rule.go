package models

import (
	"sort"
	"time"
)

// Stage is one of the three fixed execution phases of a rule run.
type Stage string

const (
	StagePre     Stage = "pre"
	StageDefault Stage = "default"
	StagePost    Stage = "post"
)

// Stages lists the execution phases in the order they run.
var Stages = []Stage{StagePre, StageDefault, StagePost}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StagePre, StageDefault, StagePost:
		return true
	}
	return false
}

// RuleType classifies what a rule is meant to do.
type RuleType string

const (
	RuleTypeCategorization RuleType = "categorization"
	RuleTypeBeneficiary    RuleType = "beneficiary"
	RuleTypeTag            RuleType = "tag"
	RuleTypeCombination    RuleType = "combination"
)

// IsValid reports whether t is a known rule type.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeCategorization, RuleTypeBeneficiary, RuleTypeTag, RuleTypeCombination:
		return true
	}
	return false
}

// Priority bounds. Lower values fire first.
const (
	MinPriority     = 1
	MaxPriority     = 1000
	DefaultPriority = 100
	MaxRuleNameLen  = 100
)

// Rule is a named, prioritized unit combining AND-matched conditions
// with an ordered list of actions.
type Rule struct {
	ID            string     `json:"id"`
	WorkspaceID   string     `json:"workspace_id"`
	OwnerID       string     `json:"owner_id,omitempty"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	RuleType      RuleType   `json:"rule_type"`
	Stage         Stage      `json:"stage"`
	Active        bool       `json:"active"`
	Priority      int        `json:"priority"`
	AutoGenerated bool       `json:"auto_generated"`
	TimesApplied  int        `json:"times_applied"`
	LastAppliedAt *time.Time `json:"last_applied_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
}

// SortRules orders rules by priority ascending, breaking ties by name.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})
}

// Clone returns a copy of r whose slices and pointers are not shared.
// Operands and action values are immutable and shared.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastAppliedAt != nil {
		t := *r.LastAppliedAt
		c.LastAppliedAt = &t
	}
	if r.Conditions != nil {
		c.Conditions = append([]Condition(nil), r.Conditions...)
	}
	if r.Actions != nil {
		c.Actions = append([]Action(nil), r.Actions...)
	}
	return &c
}

// Key identifies a rule within its workspace for de-duplication.
func (r *Rule) Key() string {
	return string(r.Stage) + "|" + string(r.RuleType) + "|" + r.Name
}
