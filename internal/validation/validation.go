// Package validation checks rule definitions and command-line inputs
// before they reach the store.
package validation

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/ruleerror"
)

// ValidateRule checks the structure of rule: name, priority, type, stage
// and the payload of every condition and action. It collects every problem
// and returns them as ruleerror.ValidationErrors, or nil.
func ValidateRule(rule *models.Rule) error {
	if rule == nil {
		return ruleerror.ValidationErrors{{Field: "rule", Reason: "is required"}}
	}
	v := &collector{ruleName: rule.Name}

	name := strings.TrimSpace(rule.Name)
	switch {
	case name == "":
		v.add("name", "is required")
	case utf8.RuneCountInString(name) > models.MaxRuleNameLen:
		v.add("name", fmt.Sprintf("must be at most %d characters", models.MaxRuleNameLen))
	}
	if rule.Priority < models.MinPriority || rule.Priority > models.MaxPriority {
		v.add("priority", fmt.Sprintf("must be between %d and %d, got %d",
			models.MinPriority, models.MaxPriority, rule.Priority))
	}
	if !rule.RuleType.IsValid() {
		v.add("rule_type", fmt.Sprintf("unknown rule type '%s'", rule.RuleType))
	}
	if !rule.Stage.IsValid() {
		v.add("stage", fmt.Sprintf("unknown stage '%s'", rule.Stage))
	}

	for i, cond := range rule.Conditions {
		checkCondition(v, fmt.Sprintf("conditions[%d]", i), cond)
	}
	for i, action := range rule.Actions {
		checkAction(v, fmt.Sprintf("actions[%d]", i), action)
	}
	return v.err()
}

type collector struct {
	ruleName string
	errs     ruleerror.ValidationErrors
}

func (c *collector) add(field, reason string) {
	c.errs = append(c.errs, &ruleerror.ValidationError{RuleName: c.ruleName, Field: field, Reason: reason})
}

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func checkCondition(v *collector, field string, cond models.Condition) {
	if !cond.Type.IsValid() {
		v.add(field, fmt.Sprintf("unknown condition type '%s'", cond.Type))
		return
	}
	field += "." + string(cond.Type)

	switch op := cond.Operand.(type) {
	case models.TextOperand:
		value := strings.TrimSpace(op.Value)
		if value == "" {
			v.add(field, "text value is required")
			return
		}
		switch cond.Type {
		case models.CondDescriptionMatches:
			if err := CheckPattern(op.Value, !cond.CaseSensitive); err != nil {
				v.add(field, err.Error())
			}
		case models.CondTransactionType:
			if !IsTransactionType(value) {
				v.add(field, fmt.Sprintf("unknown transaction type '%s'", value))
			}
		}
	case models.TextListOperand:
		if countNonBlank(op.Values) == 0 {
			v.add(field, "at least one text value is required")
		}
	case models.AmountOperand:
		if !op.Value.Valid {
			v.add(field, "numeric value is required")
		}
	case models.AmountRangeOperand:
		switch {
		case !op.Min.Valid || !op.Max.Valid:
			v.add(field, "numeric range requires both bounds")
		case op.Min.Decimal.GreaterThan(op.Max.Decimal):
			v.add(field, "numeric range minimum is greater than maximum")
		}
	case models.DateOperand:
		if op.Value.IsZero() {
			v.add(field, "date value is required")
		}
	case models.DateRangeOperand:
		switch {
		case op.From.IsZero() || op.To.IsZero():
			v.add(field, "date range requires both bounds")
		case op.From.After(op.To):
			v.add(field, "date range start is after its end")
		}
	case models.RefSetOperand:
		if len(op.Refs) == 0 {
			v.add(field, "at least one reference is required")
		}
		for _, ref := range op.Refs {
			if ref.ID == "" {
				v.add(field, "reference without id")
				break
			}
		}
	default:
		v.add(field, "payload is missing")
		return
	}

	if cond.Operand.Kind() != cond.Type.OperandKind() {
		v.add(field, fmt.Sprintf("expects a %s payload, got %s", cond.Type.OperandKind(), cond.Operand.Kind()))
	}
}

func checkAction(v *collector, field string, action models.Action) {
	if !action.Type.IsValid() {
		v.add(field, fmt.Sprintf("unknown action type '%s'", action.Type))
		return
	}
	field += "." + string(action.Type)

	switch val := action.Value.(type) {
	case models.RefValue:
		if val.Ref.ID == "" {
			v.add(field, "reference is required")
		}
	case models.TextValue:
		if action.Type != models.ActionSetNotes && strings.TrimSpace(val.Value) == "" {
			v.add(field, "text value is required")
		}
	case models.AmountValue:
		if !val.Value.Valid {
			v.add(field, "numeric value is required")
		}
	case models.DateValue:
		if val.Value.IsZero() {
			v.add(field, "date value is required")
		}
	case models.BoolValue:
	default:
		if action.Type.ValueKind() == models.ValueKindRef {
			v.add(field, "reference is required")
		} else {
			v.add(field, "value is missing")
		}
		return
	}

	if action.Value.Kind() != action.Type.ValueKind() {
		v.add(field, fmt.Sprintf("expects a %s value, got %s", action.Type.ValueKind(), action.Value.Kind()))
	}
}

func countNonBlank(values []string) int {
	n := 0
	for _, s := range values {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// CheckPattern compiles pattern the way the evaluator does.
func CheckPattern(pattern string, caseInsensitive bool) error {
	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + pattern
	}
	if _, err := regexp.Compile(expr); err != nil {
		return fmt.Errorf("invalid regular expression: %w", err)
	}
	return nil
}

// IsTransactionType reports whether t is a known transaction type.
func IsTransactionType(t string) bool {
	switch t {
	case models.TransactionTypeExpense, models.TransactionTypeIncome, models.TransactionTypeTransfer:
		return true
	}
	return false
}

// IsValidInputFile checks that path names an existing regular file.
func IsValidInputFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return fmt.Errorf("error checking file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

// IsValidOutputFormat checks if the given report format is supported.
func IsValidOutputFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s. Supported formats are 'text', 'json'", format)
	}
}
