// Package applier mutates transactions according to rule actions.
package applier

import (
	"errors"
	"fmt"
	"strings"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
)

// NotesSeparator joins appended or prepended notes.
const NotesSeparator = "\n"

// Errors describing unusable action payloads.
var (
	ErrMissingValue = errors.New("action has no value")
	ErrWrongValue   = errors.New("action value does not match action type")
	ErrUnknownType  = errors.New("unknown action type")
)

// Applier applies actions to transactions. Apply and WouldApply share one
// decision function, so a simulated run and a real run always agree on
// which actions qualify.
type Applier struct {
	logger logging.Logger
}

// NewApplier creates an Applier.
func NewApplier(logger logging.Logger) *Applier {
	return &Applier{logger: logger}
}

// mutation is the outcome of planning one action: whether it changes the
// transaction, and how.
type mutation struct {
	applies bool
	apply   func(tx *models.Transaction)
}

var noop = mutation{}

// Apply mutates tx in place when the action's guard allows it and reports
// whether anything changed. A missing or mistyped payload returns an error
// and leaves tx untouched.
func (a *Applier) Apply(action models.Action, tx *models.Transaction) (bool, error) {
	m, err := plan(action, tx)
	if err != nil {
		return false, err
	}
	if m.apply != nil {
		m.apply(tx)
	}
	if m.applies {
		a.logger.Debug("Action applied",
			logging.F(logging.FieldActionType, string(action.Type)),
			logging.F(logging.FieldTransactionID, tx.ID))
	}
	return m.applies, nil
}

// WouldApply reports whether Apply would change tx, without mutating it.
func (a *Applier) WouldApply(action models.Action, tx *models.Transaction) (bool, error) {
	m, err := plan(action, tx)
	if err != nil {
		return false, err
	}
	return m.applies, nil
}

func plan(action models.Action, tx *models.Transaction) (mutation, error) {
	if tx == nil {
		return noop, fmt.Errorf("%s: no transaction", action.Type)
	}

	switch action.Type {
	case models.ActionSetCategory:
		return planRef(action, func(t *models.Transaction) **models.EntityRef { return &t.Category }, tx)
	case models.ActionSetBeneficiary:
		return planRef(action, func(t *models.Transaction) **models.EntityRef { return &t.Beneficiary }, tx)
	case models.ActionSetAccount:
		return planRef(action, func(t *models.Transaction) **models.EntityRef { return &t.Account }, tx)

	case models.ActionSetDescription:
		return planText(action, func(t *models.Transaction) *string { return &t.Description }, tx)
	case models.ActionSetNotes:
		return planText(action, func(t *models.Transaction) *string { return &t.Notes }, tx)

	case models.ActionSetAmount:
		v, ok := action.Value.(models.AmountValue)
		if err := checkValue(action, ok); err != nil {
			return noop, err
		}
		if !v.Value.Valid {
			return noop, fmt.Errorf("%s: %w", action.Type, ErrMissingValue)
		}
		if !tx.Amount.IsZero() && !action.OverwriteExisting {
			return noop, nil
		}
		if tx.Amount.Equal(v.Value.Decimal) {
			return noop, nil
		}
		return mutation{applies: true, apply: func(t *models.Transaction) { t.Amount = v.Value.Decimal }}, nil

	case models.ActionSetDate:
		v, ok := action.Value.(models.DateValue)
		if err := checkValue(action, ok); err != nil {
			return noop, err
		}
		if v.Value.IsZero() {
			return noop, fmt.Errorf("%s: %w", action.Type, ErrMissingValue)
		}
		if !tx.Date.IsZero() && !action.OverwriteExisting {
			return noop, nil
		}
		if !tx.Date.IsZero() && models.SameDay(tx.Date, v.Value) {
			return noop, nil
		}
		date := models.DateOnly(v.Value)
		return mutation{applies: true, apply: func(t *models.Transaction) { t.Date = date }}, nil

	case models.ActionAppendNotes, models.ActionPrependNotes:
		v, ok := action.Value.(models.TextValue)
		if err := checkValue(action, ok); err != nil {
			return noop, err
		}
		if strings.TrimSpace(v.Value) == "" {
			return noop, nil
		}
		prepend := action.Type == models.ActionPrependNotes
		return mutation{applies: true, apply: func(t *models.Transaction) {
			t.Notes = joinNotes(t.Notes, v.Value, prepend)
		}}, nil

	case models.ActionAddTag:
		v, ok := action.Value.(models.RefValue)
		if err := checkValue(action, ok); err != nil {
			return noop, err
		}
		if v.Ref.ID == "" {
			return noop, fmt.Errorf("%s: %w", action.Type, ErrMissingValue)
		}
		if tx.HasTag(v.Ref.ID) {
			return noop, nil
		}
		return mutation{applies: true, apply: func(t *models.Transaction) { t.Tags = append(t.Tags, v.Ref) }}, nil

	case models.ActionMarkCleared:
		v, ok := action.Value.(models.BoolValue)
		if err := checkValue(action, ok); err != nil {
			return noop, err
		}
		// The flag is always written; only a change counts as applied.
		return mutation{applies: tx.Cleared != v.Value, apply: func(t *models.Transaction) { t.Cleared = v.Value }}, nil
	}

	return noop, fmt.Errorf("%s: %w", action.Type, ErrUnknownType)
}

func checkValue(action models.Action, ok bool) error {
	if action.Value == nil {
		return fmt.Errorf("%s: %w", action.Type, ErrMissingValue)
	}
	if !ok {
		return fmt.Errorf("%s: %w (got %s)", action.Type, ErrWrongValue, action.Value.Kind())
	}
	return nil
}

func planRef(action models.Action, field func(*models.Transaction) **models.EntityRef, tx *models.Transaction) (mutation, error) {
	v, ok := action.Value.(models.RefValue)
	if err := checkValue(action, ok); err != nil {
		return noop, err
	}
	if v.Ref.ID == "" {
		return noop, fmt.Errorf("%s: %w", action.Type, ErrMissingValue)
	}
	current := *field(tx)
	if current != nil && !action.OverwriteExisting {
		return noop, nil
	}
	if current != nil && current.ID == v.Ref.ID {
		return noop, nil
	}
	ref := v.Ref
	return mutation{applies: true, apply: func(t *models.Transaction) {
		r := ref
		*field(t) = &r
	}}, nil
}

func planText(action models.Action, field func(*models.Transaction) *string, tx *models.Transaction) (mutation, error) {
	v, ok := action.Value.(models.TextValue)
	if err := checkValue(action, ok); err != nil {
		return noop, err
	}
	if v.Value == "" {
		return noop, fmt.Errorf("%s: %w", action.Type, ErrMissingValue)
	}
	current := *field(tx)
	if current != "" && !action.OverwriteExisting {
		return noop, nil
	}
	if current == v.Value {
		return noop, nil
	}
	return mutation{applies: true, apply: func(t *models.Transaction) { *field(t) = v.Value }}, nil
}

func joinNotes(existing, addition string, prepend bool) string {
	if existing == "" {
		return strings.TrimSpace(addition)
	}
	if prepend {
		return strings.TrimSpace(addition + NotesSeparator + existing)
	}
	return strings.TrimSpace(existing + NotesSeparator + addition)
}
