package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"fjacquet/txrules/internal/models"

	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML document rules are imported from and exported to.
type RuleFile struct {
	Rules []RuleDocument `yaml:"rules"`
}

// RuleDocument is the YAML form of one rule. Statistics and timestamps are
// not exchanged.
type RuleDocument struct {
	ID            string                   `yaml:"id,omitempty"`
	Name          string                   `yaml:"name"`
	Description   string                   `yaml:"description,omitempty"`
	RuleType      models.RuleType          `yaml:"rule_type"`
	Stage         models.Stage             `yaml:"stage"`
	Active        *bool                    `yaml:"active,omitempty"`
	Priority      int                      `yaml:"priority,omitempty"`
	AutoGenerated bool                     `yaml:"auto_generated,omitempty"`
	Conditions    []models.ConditionRecord `yaml:"conditions"`
	Actions       []models.ActionRecord    `yaml:"actions"`
}

// DocumentFromRule converts a rule into its YAML form.
func DocumentFromRule(r models.Rule) RuleDocument {
	active := r.Active
	doc := RuleDocument{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		RuleType:      r.RuleType,
		Stage:         r.Stage,
		Active:        &active,
		Priority:      r.Priority,
		AutoGenerated: r.AutoGenerated,
		Conditions:    make([]models.ConditionRecord, 0, len(r.Conditions)),
		Actions:       make([]models.ActionRecord, 0, len(r.Actions)),
	}
	for _, c := range r.Conditions {
		doc.Conditions = append(doc.Conditions, c.Record())
	}
	for _, a := range r.Actions {
		doc.Actions = append(doc.Actions, a.Record())
	}
	return doc
}

// Rule builds a rule owned by workspaceID from d. Missing stage, priority
// and active flag take their defaults.
func (d RuleDocument) Rule(workspaceID string) models.Rule {
	r := models.Rule{
		ID:            d.ID,
		WorkspaceID:   workspaceID,
		Name:          d.Name,
		Description:   d.Description,
		RuleType:      d.RuleType,
		Stage:         d.Stage,
		Active:        true,
		Priority:      d.Priority,
		AutoGenerated: d.AutoGenerated,
		Conditions:    make([]models.Condition, 0, len(d.Conditions)),
		Actions:       make([]models.Action, 0, len(d.Actions)),
	}
	if d.Active != nil {
		r.Active = *d.Active
	}
	if r.Stage == "" {
		r.Stage = models.StageDefault
	}
	if r.Priority == 0 {
		r.Priority = models.DefaultPriority
	}
	for _, c := range d.Conditions {
		r.Conditions = append(r.Conditions, c.Condition())
	}
	for _, a := range d.Actions {
		r.Actions = append(r.Actions, a.Action())
	}
	return r
}

// ParseRuleFile decodes a YAML rule file.
func ParseRuleFile(data []byte) ([]RuleDocument, error) {
	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("error parsing rule file: %w", err)
	}
	return file.Rules, nil
}

// MarshalRuleFile encodes rules as a YAML rule file.
func MarshalRuleFile(docs []RuleDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(RuleFile{Rules: docs}); err != nil {
		return nil, fmt.Errorf("error encoding rule file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("error encoding rule file: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadRuleFile reads and decodes the rule file at path, resolving relative
// names through FindRuleFile.
func LoadRuleFile(path string) ([]RuleDocument, error) {
	resolved, err := FindRuleFile(path)
	if err != nil {
		return nil, fmt.Errorf("rule file %s not found: %w", path, err)
	}
	data, err := os.ReadFile(resolved) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("error reading rule file %s: %w", resolved, err)
	}
	return ParseRuleFile(data)
}

// WriteRuleFile encodes docs to path, creating parent directories.
func WriteRuleFile(path string, docs []RuleDocument) error {
	data, err := MarshalRuleFile(docs)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("error creating directory for rule file: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("error writing rule file %s: %w", path, err)
	}
	return nil
}

// FindRuleFile looks for a rule file in the standard locations: the path
// itself, ./config/, ./rules/ and ~/.txrules/.
func FindRuleFile(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		if _, err := os.Stat(filename); err == nil {
			return filename, nil
		}
		return "", os.ErrNotExist
	}

	locations := []string{
		filename,
		filepath.Join("config", filename),
		filepath.Join("rules", filename),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".txrules", filename))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location, nil
		}
	}
	return "", os.ErrNotExist
}
