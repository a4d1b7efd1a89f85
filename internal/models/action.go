package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ActionType identifies a single mutation variant.
type ActionType string

const (
	ActionSetCategory    ActionType = "set_category"
	ActionSetBeneficiary ActionType = "set_beneficiary"
	ActionSetAccount     ActionType = "set_account"
	ActionSetDescription ActionType = "set_description"
	ActionSetAmount      ActionType = "set_amount"
	ActionSetDate        ActionType = "set_date"
	ActionSetNotes       ActionType = "set_notes"
	ActionAppendNotes    ActionType = "append_notes"
	ActionPrependNotes   ActionType = "prepend_notes"
	ActionAddTag         ActionType = "add_tag"
	ActionMarkCleared    ActionType = "mark_cleared"
)

// ValueKind names the payload shape an action type requires.
type ValueKind string

const (
	ValueKindRef     ValueKind = "ref"
	ValueKindText    ValueKind = "text"
	ValueKindAmount  ValueKind = "amount"
	ValueKindDate    ValueKind = "date"
	ValueKindBool    ValueKind = "bool"
	ValueKindUnknown ValueKind = ""
)

var actionValueKinds = map[ActionType]ValueKind{
	ActionSetCategory:    ValueKindRef,
	ActionSetBeneficiary: ValueKindRef,
	ActionSetAccount:     ValueKindRef,
	ActionSetDescription: ValueKindText,
	ActionSetAmount:      ValueKindAmount,
	ActionSetDate:        ValueKindDate,
	ActionSetNotes:       ValueKindText,
	ActionAppendNotes:    ValueKindText,
	ActionPrependNotes:   ValueKindText,
	ActionAddTag:         ValueKindRef,
	ActionMarkCleared:    ValueKindBool,
}

// ValueKind returns the payload shape required by t.
func (t ActionType) ValueKind() ValueKind {
	return actionValueKinds[t]
}

// IsValid reports whether t is a known action type.
func (t ActionType) IsValid() bool {
	_, ok := actionValueKinds[t]
	return ok
}

// RefKind returns the entity kind an action references, if any.
func (t ActionType) RefKind() (EntityKind, bool) {
	switch t {
	case ActionSetCategory:
		return EntityCategory, true
	case ActionSetBeneficiary:
		return EntityBeneficiary, true
	case ActionSetAccount:
		return EntityAccount, true
	case ActionAddTag:
		return EntityTag, true
	}
	return "", false
}

// ActionValue is the typed payload of an action.
type ActionValue interface {
	actionValue()
	Kind() ValueKind
}

// RefValue points at a category, beneficiary, account or tag.
type RefValue struct {
	Ref EntityRef
}

// TextValue carries free text.
type TextValue struct {
	Value string
}

// AmountValue carries an amount. An invalid NullDecimal means missing.
type AmountValue struct {
	Value decimal.NullDecimal
}

// DateValue carries a calendar date. A zero time means missing.
type DateValue struct {
	Value time.Time
}

// BoolValue carries a flag.
type BoolValue struct {
	Value bool
}

func (RefValue) actionValue()    {}
func (TextValue) actionValue()   {}
func (AmountValue) actionValue() {}
func (DateValue) actionValue()   {}
func (BoolValue) actionValue()   {}

func (RefValue) Kind() ValueKind    { return ValueKindRef }
func (TextValue) Kind() ValueKind   { return ValueKindText }
func (AmountValue) Kind() ValueKind { return ValueKindAmount }
func (DateValue) Kind() ValueKind   { return ValueKindDate }
func (BoolValue) Kind() ValueKind   { return ValueKindBool }

// Action is a single potential mutation of a transaction.
type Action struct {
	ID                string
	Type              ActionType
	OverwriteExisting bool
	Value             ActionValue
}

// DisplayValue renders the payload the way it is recorded in the
// application log.
func (a Action) DisplayValue() string {
	switch v := a.Value.(type) {
	case RefValue:
		return v.Ref.Label()
	case TextValue:
		return v.Value
	case AmountValue:
		if !v.Value.Valid {
			return ""
		}
		return v.Value.Decimal.StringFixed(2)
	case DateValue:
		return FormatDate(v.Value)
	case BoolValue:
		return strconv.FormatBool(v.Value)
	}
	return ""
}

// ActionRecord is the flat, serializable form of an Action.
type ActionRecord struct {
	ID                string     `json:"id,omitempty" yaml:"id,omitempty"`
	Type              ActionType `json:"action_type" yaml:"action_type"`
	OverwriteExisting bool       `json:"overwrite_existing" yaml:"overwrite_existing,omitempty"`
	Ref               *EntityRef `json:"ref,omitempty" yaml:"ref,omitempty"`
	TextValue         string     `json:"text_value,omitempty" yaml:"text_value,omitempty"`
	NumericValue      string     `json:"numeric_value,omitempty" yaml:"numeric_value,omitempty"`
	DateValue         string     `json:"date_value,omitempty" yaml:"date_value,omitempty"`
	BooleanValue      bool       `json:"boolean_value,omitempty" yaml:"boolean_value,omitempty"`
}

// Record converts a into its flat form.
func (a Action) Record() ActionRecord {
	rec := ActionRecord{ID: a.ID, Type: a.Type, OverwriteExisting: a.OverwriteExisting}
	switch v := a.Value.(type) {
	case RefValue:
		ref := v.Ref
		rec.Ref = &ref
	case TextValue:
		rec.TextValue = v.Value
	case AmountValue:
		rec.NumericValue = nullDecimalString(v.Value)
	case DateValue:
		rec.DateValue = FormatDate(v.Value)
	case BoolValue:
		rec.BooleanValue = v.Value
	}
	return rec
}

// Action builds the typed form of r. A reference action without a ref
// yields a nil Value, which the applier rejects.
func (r ActionRecord) Action() Action {
	a := Action{ID: r.ID, Type: r.Type, OverwriteExisting: r.OverwriteExisting}
	switch r.Type.ValueKind() {
	case ValueKindRef:
		if r.Ref != nil && r.Ref.ID != "" {
			a.Value = RefValue{Ref: *r.Ref}
		}
	case ValueKindText:
		a.Value = TextValue{Value: r.TextValue}
	case ValueKindAmount:
		a.Value = AmountValue{Value: parseNullDecimal(r.NumericValue)}
	case ValueKindDate:
		a.Value = DateValue{Value: parseDateLenient(r.DateValue)}
	case ValueKindBool:
		a.Value = BoolValue{Value: r.BooleanValue}
	}
	return a
}

// MarshalJSON encodes the action in its flat form.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Record())
}

// UnmarshalJSON decodes the flat form.
func (a *Action) UnmarshalJSON(data []byte) error {
	var rec ActionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}
	*a = rec.Action()
	return nil
}

// AppliedAction is one entry of an application log: the action that fired
// and the value it wrote.
type AppliedAction struct {
	ActionType  ActionType `json:"action_type"`
	ActionValue string     `json:"action_value"`
}

// String renders the entry as "type=value".
func (a AppliedAction) String() string {
	return string(a.ActionType) + "=" + strings.TrimSpace(a.ActionValue)
}
