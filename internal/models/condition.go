package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionType identifies a single predicate variant.
type ConditionType string

const (
	CondDescriptionIs          ConditionType = "description_is"
	CondDescriptionIsNot       ConditionType = "description_is_not"
	CondDescriptionContains    ConditionType = "description_contains"
	CondDescriptionNotContains ConditionType = "description_not_contains"
	CondDescriptionMatches     ConditionType = "description_matches"
	CondDescriptionOneOf       ConditionType = "description_one_of"
	CondDescriptionNotOneOf    ConditionType = "description_not_one_of"

	CondAmountIs      ConditionType = "amount_is"
	CondAmountIsNot   ConditionType = "amount_is_not"
	CondAmountGreater ConditionType = "amount_greater"
	CondAmountLess    ConditionType = "amount_less"
	CondAmountRange   ConditionType = "amount_range"

	CondCategoryIs       ConditionType = "category_is"
	CondCategoryIsNot    ConditionType = "category_is_not"
	CondCategoryOneOf    ConditionType = "category_one_of"
	CondCategoryNotOneOf ConditionType = "category_not_one_of"

	CondBeneficiaryIs          ConditionType = "beneficiary_is"
	CondBeneficiaryIsNot       ConditionType = "beneficiary_is_not"
	CondBeneficiaryContains    ConditionType = "beneficiary_contains"
	CondBeneficiaryNotContains ConditionType = "beneficiary_not_contains"
	CondBeneficiaryOneOf       ConditionType = "beneficiary_one_of"
	CondBeneficiaryNotOneOf    ConditionType = "beneficiary_not_one_of"

	CondAccountIs       ConditionType = "account_is"
	CondAccountIsNot    ConditionType = "account_is_not"
	CondAccountOneOf    ConditionType = "account_one_of"
	CondAccountNotOneOf ConditionType = "account_not_one_of"

	CondDateIs     ConditionType = "date_is"
	CondDateIsNot  ConditionType = "date_is_not"
	CondDateAfter  ConditionType = "date_after"
	CondDateBefore ConditionType = "date_before"
	CondDateRange  ConditionType = "date_range"

	CondTransactionType ConditionType = "transaction_type"
)

// OperandKind names the payload shape a condition type requires.
type OperandKind string

const (
	OperandKindText        OperandKind = "text"
	OperandKindTextList    OperandKind = "text_list"
	OperandKindAmount      OperandKind = "amount"
	OperandKindAmountRange OperandKind = "amount_range"
	OperandKindDate        OperandKind = "date"
	OperandKindDateRange   OperandKind = "date_range"
	OperandKindRefSet      OperandKind = "ref_set"
	OperandKindUnknown     OperandKind = ""
)

var conditionOperandKinds = map[ConditionType]OperandKind{
	CondDescriptionIs:          OperandKindText,
	CondDescriptionIsNot:       OperandKindText,
	CondDescriptionContains:    OperandKindText,
	CondDescriptionNotContains: OperandKindText,
	CondDescriptionMatches:     OperandKindText,
	CondDescriptionOneOf:       OperandKindTextList,
	CondDescriptionNotOneOf:    OperandKindTextList,

	CondAmountIs:      OperandKindAmount,
	CondAmountIsNot:   OperandKindAmount,
	CondAmountGreater: OperandKindAmount,
	CondAmountLess:    OperandKindAmount,
	CondAmountRange:   OperandKindAmountRange,

	CondCategoryIs:       OperandKindText,
	CondCategoryIsNot:    OperandKindText,
	CondCategoryOneOf:    OperandKindRefSet,
	CondCategoryNotOneOf: OperandKindRefSet,

	CondBeneficiaryIs:          OperandKindText,
	CondBeneficiaryIsNot:       OperandKindText,
	CondBeneficiaryContains:    OperandKindText,
	CondBeneficiaryNotContains: OperandKindText,
	CondBeneficiaryOneOf:       OperandKindRefSet,
	CondBeneficiaryNotOneOf:    OperandKindRefSet,

	CondAccountIs:       OperandKindText,
	CondAccountIsNot:    OperandKindText,
	CondAccountOneOf:    OperandKindRefSet,
	CondAccountNotOneOf: OperandKindRefSet,

	CondDateIs:     OperandKindDate,
	CondDateIsNot:  OperandKindDate,
	CondDateAfter:  OperandKindDate,
	CondDateBefore: OperandKindDate,
	CondDateRange:  OperandKindDateRange,

	CondTransactionType: OperandKindText,
}

// OperandKind returns the payload shape required by t, or OperandKindUnknown.
func (t ConditionType) OperandKind() OperandKind {
	return conditionOperandKinds[t]
}

// IsValid reports whether t is a known condition type.
func (t ConditionType) IsValid() bool {
	_, ok := conditionOperandKinds[t]
	return ok
}

// RefKind returns the entity kind referenced by one-of conditions over
// categories, beneficiaries or accounts.
func (t ConditionType) RefKind() (EntityKind, bool) {
	switch t {
	case CondCategoryOneOf, CondCategoryNotOneOf:
		return EntityCategory, true
	case CondBeneficiaryOneOf, CondBeneficiaryNotOneOf:
		return EntityBeneficiary, true
	case CondAccountOneOf, CondAccountNotOneOf:
		return EntityAccount, true
	}
	return "", false
}

// Operand is the typed payload of a condition. The set of implementations
// is closed to this package.
type Operand interface {
	operand()
	Kind() OperandKind
}

// TextOperand carries a single text literal.
type TextOperand struct {
	Value string
}

// TextListOperand carries a list of literals for one-of comparisons.
type TextListOperand struct {
	Values []string
}

// AmountOperand carries a single amount. An invalid NullDecimal means the
// payload is missing.
type AmountOperand struct {
	Value decimal.NullDecimal
}

// AmountRangeOperand carries inclusive bounds.
type AmountRangeOperand struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

// DateOperand carries a single calendar date. A zero time means missing.
type DateOperand struct {
	Value time.Time
}

// DateRangeOperand carries an inclusive calendar date range.
type DateRangeOperand struct {
	From time.Time
	To   time.Time
}

// RefSetOperand carries the resolved set of entities for one-of conditions.
type RefSetOperand struct {
	Refs []EntityRef
	ids  map[string]struct{}
}

// NewRefSetOperand builds a RefSetOperand with its lookup set populated.
func NewRefSetOperand(refs []EntityRef) RefSetOperand {
	ids := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		ids[r.ID] = struct{}{}
	}
	return RefSetOperand{Refs: refs, ids: ids}
}

// Has reports whether id is part of the set.
func (o RefSetOperand) Has(id string) bool {
	if o.ids != nil {
		_, ok := o.ids[id]
		return ok
	}
	for _, r := range o.Refs {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (TextOperand) operand()        {}
func (TextListOperand) operand()    {}
func (AmountOperand) operand()      {}
func (AmountRangeOperand) operand() {}
func (DateOperand) operand()        {}
func (DateRangeOperand) operand()   {}
func (RefSetOperand) operand()      {}

func (TextOperand) Kind() OperandKind        { return OperandKindText }
func (TextListOperand) Kind() OperandKind    { return OperandKindTextList }
func (AmountOperand) Kind() OperandKind      { return OperandKindAmount }
func (AmountRangeOperand) Kind() OperandKind { return OperandKindAmountRange }
func (DateOperand) Kind() OperandKind        { return OperandKindDate }
func (DateRangeOperand) Kind() OperandKind   { return OperandKindDateRange }
func (RefSetOperand) Kind() OperandKind      { return OperandKindRefSet }

// Condition is a single predicate over one transaction field domain.
type Condition struct {
	ID            string
	Type          ConditionType
	CaseSensitive bool
	Operand       Operand
}

// DisplayValue renders the operand for logs and reports.
func (c Condition) DisplayValue() string {
	switch op := c.Operand.(type) {
	case TextOperand:
		return op.Value
	case TextListOperand:
		return strings.Join(op.Values, ", ")
	case AmountOperand:
		return formatNullDecimal(op.Value)
	case AmountRangeOperand:
		return formatNullDecimal(op.Min) + " - " + formatNullDecimal(op.Max)
	case DateOperand:
		return FormatDate(op.Value)
	case DateRangeOperand:
		return FormatDate(op.From) + " - " + FormatDate(op.To)
	case RefSetOperand:
		names := make([]string, 0, len(op.Refs))
		for _, r := range op.Refs {
			names = append(names, r.Label())
		}
		return strings.Join(names, ", ")
	}
	return ""
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "?"
	}
	return d.Decimal.StringFixed(2)
}

// ConditionRecord is the flat, serializable form of a Condition. It is the
// shape used by the API, rule files and the database.
type ConditionRecord struct {
	ID              string        `json:"id,omitempty" yaml:"id,omitempty"`
	Type            ConditionType `json:"condition_type" yaml:"condition_type"`
	CaseSensitive   bool          `json:"case_sensitive" yaml:"case_sensitive,omitempty"`
	TextValue       string        `json:"text_value,omitempty" yaml:"text_value,omitempty"`
	TextValues      []string      `json:"text_values,omitempty" yaml:"text_values,omitempty"`
	NumericValue    string        `json:"numeric_value,omitempty" yaml:"numeric_value,omitempty"`
	NumericValueMax string        `json:"numeric_value_max,omitempty" yaml:"numeric_value_max,omitempty"`
	DateValue       string        `json:"date_value,omitempty" yaml:"date_value,omitempty"`
	DateValueMax    string        `json:"date_value_max,omitempty" yaml:"date_value_max,omitempty"`
	Refs            []EntityRef   `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// Record converts c into its flat form.
func (c Condition) Record() ConditionRecord {
	rec := ConditionRecord{ID: c.ID, Type: c.Type, CaseSensitive: c.CaseSensitive}
	switch op := c.Operand.(type) {
	case TextOperand:
		rec.TextValue = op.Value
	case TextListOperand:
		rec.TextValues = append([]string(nil), op.Values...)
	case AmountOperand:
		rec.NumericValue = nullDecimalString(op.Value)
	case AmountRangeOperand:
		rec.NumericValue = nullDecimalString(op.Min)
		rec.NumericValueMax = nullDecimalString(op.Max)
	case DateOperand:
		rec.DateValue = FormatDate(op.Value)
	case DateRangeOperand:
		rec.DateValue = FormatDate(op.From)
		rec.DateValueMax = FormatDate(op.To)
	case RefSetOperand:
		rec.Refs = append([]EntityRef(nil), op.Refs...)
	}
	return rec
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// Condition builds the typed form of r. Missing or unparseable payload
// fields are left unset rather than rejected, so a stored condition with a
// bad payload still loads and fails closed at evaluation time.
func (r ConditionRecord) Condition() Condition {
	c := Condition{ID: r.ID, Type: r.Type, CaseSensitive: r.CaseSensitive}
	switch r.Type.OperandKind() {
	case OperandKindText:
		c.Operand = TextOperand{Value: r.TextValue}
	case OperandKindTextList:
		c.Operand = TextListOperand{Values: append([]string(nil), r.TextValues...)}
	case OperandKindAmount:
		c.Operand = AmountOperand{Value: parseNullDecimal(r.NumericValue)}
	case OperandKindAmountRange:
		c.Operand = AmountRangeOperand{
			Min: parseNullDecimal(r.NumericValue),
			Max: parseNullDecimal(r.NumericValueMax),
		}
	case OperandKindDate:
		c.Operand = DateOperand{Value: parseDateLenient(r.DateValue)}
	case OperandKindDateRange:
		c.Operand = DateRangeOperand{
			From: parseDateLenient(r.DateValue),
			To:   parseDateLenient(r.DateValueMax),
		}
	case OperandKindRefSet:
		c.Operand = NewRefSetOperand(append([]EntityRef(nil), r.Refs...))
	}
	return c
}

func parseNullDecimal(s string) decimal.NullDecimal {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseDateLenient(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MarshalJSON encodes the condition in its flat form.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Record())
}

// UnmarshalJSON decodes the flat form.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var rec ConditionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode condition: %w", err)
	}
	*c = rec.Condition()
	return nil
}
