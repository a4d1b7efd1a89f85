// Package evaluator decides whether transactions satisfy rule conditions.
// Evaluation is pure: it never mutates the transaction and never performs
// I/O, so every reference a condition needs must already be resolved.
package evaluator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/ruleerror"
	"fjacquet/txrules/internal/textutils"
)

// Evaluator evaluates conditions against transactions. It is safe for
// concurrent use.
type Evaluator struct {
	logger   logging.Logger
	patterns sync.Map // "i:" or "s:" + pattern -> *regexp.Regexp
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger logging.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Matches reports whether tx satisfies every condition of rule. A rule
// without conditions matches every transaction. A condition that cannot be
// evaluated counts as a non-match and is logged.
func (e *Evaluator) Matches(rule *models.Rule, tx *models.Transaction) bool {
	for _, cond := range rule.Conditions {
		ok, err := e.Evaluate(cond, tx)
		if err != nil {
			e.logger.WithError(err).Warn("Condition could not be evaluated, treating rule as non-matching",
				logging.F(logging.FieldRuleID, rule.ID),
				logging.F(logging.FieldConditionID, cond.ID),
				logging.F(logging.FieldConditionType, string(cond.Type)),
				logging.F(logging.FieldTransactionID, transactionID(tx)))
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// Evaluate reports whether tx satisfies cond. A malformed operand or
// missing transaction data yields false and an *ruleerror.EvaluationError.
func (e *Evaluator) Evaluate(cond models.Condition, tx *models.Transaction) (bool, error) {
	if tx == nil {
		return false, evalError(cond, "no transaction", nil)
	}

	switch cond.Type {
	case models.CondDescriptionIs, models.CondDescriptionIsNot,
		models.CondDescriptionContains, models.CondDescriptionNotContains,
		models.CondDescriptionMatches,
		models.CondDescriptionOneOf, models.CondDescriptionNotOneOf:
		return e.evaluateDescription(cond, tx)

	case models.CondAmountIs, models.CondAmountIsNot,
		models.CondAmountGreater, models.CondAmountLess, models.CondAmountRange:
		return evaluateAmount(cond, tx)

	case models.CondCategoryIs, models.CondCategoryIsNot,
		models.CondCategoryOneOf, models.CondCategoryNotOneOf:
		return evaluateReference(cond, tx.Category, false)

	case models.CondBeneficiaryIs, models.CondBeneficiaryIsNot,
		models.CondBeneficiaryContains, models.CondBeneficiaryNotContains,
		models.CondBeneficiaryOneOf, models.CondBeneficiaryNotOneOf:
		return evaluateReference(cond, tx.Beneficiary, false)

	case models.CondAccountIs, models.CondAccountIsNot,
		models.CondAccountOneOf, models.CondAccountNotOneOf:
		return evaluateReference(cond, tx.Account, true)

	case models.CondDateIs, models.CondDateIsNot,
		models.CondDateAfter, models.CondDateBefore, models.CondDateRange:
		return evaluateDate(cond, tx)

	case models.CondTransactionType:
		op, err := textOperand(cond)
		if err != nil {
			return false, err
		}
		return tx.TransactionType == op.Value, nil
	}

	return false, evalError(cond, fmt.Sprintf("unknown condition type '%s'", cond.Type), nil)
}

// normalizer returns the comparison form for strings under cond's
// case-sensitivity flag.
func normalizer(cond models.Condition) func(string) string {
	if cond.CaseSensitive {
		return func(s string) string { return s }
	}
	return textutils.Fold
}

// isNegated reports whether the condition type is the negated form of its
// positive counterpart.
func isNegated(t models.ConditionType) bool {
	switch t {
	case models.CondDescriptionIsNot, models.CondDescriptionNotContains, models.CondDescriptionNotOneOf,
		models.CondAmountIsNot,
		models.CondCategoryIsNot, models.CondCategoryNotOneOf,
		models.CondBeneficiaryIsNot, models.CondBeneficiaryNotContains, models.CondBeneficiaryNotOneOf,
		models.CondAccountIsNot, models.CondAccountNotOneOf,
		models.CondDateIsNot:
		return true
	}
	return false
}

func (e *Evaluator) evaluateDescription(cond models.Condition, tx *models.Transaction) (bool, error) {
	norm := normalizer(cond)
	desc := norm(tx.Description)

	switch cond.Type {
	case models.CondDescriptionOneOf, models.CondDescriptionNotOneOf:
		op, ok := cond.Operand.(models.TextListOperand)
		if !ok || len(op.Values) == 0 {
			return false, evalError(cond, "missing text values", nil)
		}
		found := false
		for _, v := range op.Values {
			if norm(strings.TrimSpace(v)) == desc {
				found = true
				break
			}
		}
		return found != isNegated(cond.Type), nil

	case models.CondDescriptionMatches:
		op, err := textOperand(cond)
		if err != nil {
			return false, err
		}
		re, err := e.compile(op.Value, !cond.CaseSensitive)
		if err != nil {
			return false, evalError(cond, "invalid pattern", err)
		}
		return re.MatchString(tx.Description), nil
	}

	op, err := textOperand(cond)
	if err != nil {
		return false, err
	}
	value := norm(op.Value)

	switch cond.Type {
	case models.CondDescriptionIs:
		return desc == value, nil
	case models.CondDescriptionIsNot:
		return desc != value, nil
	case models.CondDescriptionContains:
		return strings.Contains(desc, value), nil
	default:
		return !strings.Contains(desc, value), nil
	}
}

func (e *Evaluator) compile(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := "s:" + pattern
	if caseInsensitive {
		key = "i:" + pattern
	}
	if cached, ok := e.patterns.Load(key); ok {
		return cached.(*regexp.Regexp), nil
	}

	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.patterns.Store(key, re)
	return re, nil
}

func evaluateAmount(cond models.Condition, tx *models.Transaction) (bool, error) {
	if cond.Type == models.CondAmountRange {
		op, ok := cond.Operand.(models.AmountRangeOperand)
		if !ok {
			return false, evalError(cond, "missing amount range", nil)
		}
		if !op.Min.Valid || !op.Max.Valid {
			return false, evalError(cond, "amount range requires both bounds", nil)
		}
		return tx.Amount.GreaterThanOrEqual(op.Min.Decimal) && tx.Amount.LessThanOrEqual(op.Max.Decimal), nil
	}

	op, ok := cond.Operand.(models.AmountOperand)
	if !ok || !op.Value.Valid {
		return false, evalError(cond, "missing amount", nil)
	}
	v := op.Value.Decimal

	switch cond.Type {
	case models.CondAmountIs:
		return tx.Amount.Equal(v), nil
	case models.CondAmountIsNot:
		return !tx.Amount.Equal(v), nil
	case models.CondAmountGreater:
		return tx.Amount.GreaterThan(v), nil
	default:
		return tx.Amount.LessThan(v), nil
	}
}

// evaluateReference handles category, beneficiary and account conditions.
// Name-based variants compare the folded entity name; one-of variants
// compare ids against the pre-resolved set. When matchID is set the
// name-based variants also accept the entity id. A transaction without the
// reference fails every positive form and passes every negated one.
func evaluateReference(cond models.Condition, ref *models.EntityRef, matchID bool) (bool, error) {
	negated := isNegated(cond.Type)

	switch op := cond.Operand.(type) {
	case models.RefSetOperand:
		if len(op.Refs) == 0 {
			return false, evalError(cond, "empty reference set", nil)
		}
		if ref == nil {
			return negated, nil
		}
		return op.Has(ref.ID) != negated, nil

	case models.TextOperand:
		if strings.TrimSpace(op.Value) == "" {
			return false, evalError(cond, "missing text value", nil)
		}
		if ref == nil {
			return negated, nil
		}
		norm := normalizer(cond)
		name, value := norm(ref.Name), norm(op.Value)

		var hit bool
		switch cond.Type {
		case models.CondBeneficiaryContains, models.CondBeneficiaryNotContains:
			hit = strings.Contains(name, value)
		default:
			hit = name == value || (matchID && ref.ID == op.Value)
		}
		return hit != negated, nil
	}

	return false, evalError(cond, "missing reference payload", nil)
}

func evaluateDate(cond models.Condition, tx *models.Transaction) (bool, error) {
	if tx.Date.IsZero() {
		return false, evalError(cond, "transaction has no date", nil)
	}
	day := models.DateOnly(tx.Date)

	if cond.Type == models.CondDateRange {
		op, ok := cond.Operand.(models.DateRangeOperand)
		if !ok || op.From.IsZero() || op.To.IsZero() {
			return false, evalError(cond, "date range requires both bounds", nil)
		}
		return !day.Before(models.DateOnly(op.From)) && !day.After(models.DateOnly(op.To)), nil
	}

	op, ok := cond.Operand.(models.DateOperand)
	if !ok || op.Value.IsZero() {
		return false, evalError(cond, "missing date", nil)
	}
	v := models.DateOnly(op.Value)

	switch cond.Type {
	case models.CondDateIs:
		return day.Equal(v), nil
	case models.CondDateIsNot:
		return !day.Equal(v), nil
	case models.CondDateAfter:
		return day.After(v), nil
	default:
		return day.Before(v), nil
	}
}

func textOperand(cond models.Condition) (models.TextOperand, error) {
	op, ok := cond.Operand.(models.TextOperand)
	if !ok || op.Value == "" {
		return models.TextOperand{}, evalError(cond, "missing text value", nil)
	}
	return op, nil
}

func evalError(cond models.Condition, reason string, err error) error {
	return &ruleerror.EvaluationError{
		ConditionID:   cond.ID,
		ConditionType: string(cond.Type),
		Reason:        reason,
		Err:           err,
	}
}

func transactionID(tx *models.Transaction) string {
	if tx == nil {
		return ""
	}
	return tx.ID
}
