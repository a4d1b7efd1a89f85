package learning

import (
	"fmt"
	"strings"

	"fjacquet/txrules/internal/models"
)

// SuggestionStrategy turns one kind of manual correction into a rule
// template. Each strategy covers a single learnable field.
type SuggestionStrategy interface {
	// Field returns the transaction field this strategy learns from.
	Field() models.LearnField

	// Template returns the rule to propose when the field is set to target
	// on a transaction whose description yielded keyword. Ids and
	// timestamps are filled in by the advisor.
	Template(keyword string, target models.EntityRef) models.Rule

	// Name returns the name of this strategy for logging.
	Name() string
}

// CategoryStrategy learns categorization rules. They run in the DEFAULT
// stage so that beneficiary rules have already fired.
type CategoryStrategy struct {
	Priority int
}

// Field returns models.LearnCategory.
func (s CategoryStrategy) Field() models.LearnField { return models.LearnCategory }

// Name returns the strategy name.
func (s CategoryStrategy) Name() string { return "category" }

// Template builds a DEFAULT-stage categorization rule.
func (s CategoryStrategy) Template(keyword string, target models.EntityRef) models.Rule {
	return template(keyword, target, models.StageDefault, models.RuleTypeCategorization,
		models.ActionSetCategory, s.Priority, "Auto category")
}

// BeneficiaryStrategy learns beneficiary rules. They run in the PRE stage
// because categorization may depend on the beneficiary.
type BeneficiaryStrategy struct {
	Priority int
}

// Field returns models.LearnBeneficiary.
func (s BeneficiaryStrategy) Field() models.LearnField { return models.LearnBeneficiary }

// Name returns the strategy name.
func (s BeneficiaryStrategy) Name() string { return "beneficiary" }

// Template builds a PRE-stage beneficiary rule.
func (s BeneficiaryStrategy) Template(keyword string, target models.EntityRef) models.Rule {
	return template(keyword, target, models.StagePre, models.RuleTypeBeneficiary,
		models.ActionSetBeneficiary, s.Priority, "Auto beneficiary")
}

func template(keyword string, target models.EntityRef, stage models.Stage, ruleType models.RuleType,
	action models.ActionType, priority int, prefix string) models.Rule {
	return models.Rule{
		Name:          RuleName(prefix, keyword, target),
		RuleType:      ruleType,
		Stage:         stage,
		Active:        true,
		Priority:      priority,
		AutoGenerated: true,
		Conditions: []models.Condition{{
			Type:          models.CondDescriptionContains,
			CaseSensitive: false,
			Operand:       models.TextOperand{Value: keyword},
		}},
		Actions: []models.Action{{
			Type:              action,
			OverwriteExisting: false,
			Value:             models.RefValue{Ref: target},
		}},
	}
}

// RuleName builds the deterministic name of a learned rule, truncated to
// models.MaxRuleNameLen runes. Identical inputs always give the same name,
// which is what de-duplication relies on.
func RuleName(prefix, keyword string, target models.EntityRef) string {
	name := fmt.Sprintf("%s: %s -> %s", prefix, keyword, strings.TrimSpace(target.Label()))
	runes := []rune(name)
	if len(runes) > models.MaxRuleNameLen {
		name = string(runes[:models.MaxRuleNameLen])
	}
	return name
}
