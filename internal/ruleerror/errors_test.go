package ruleerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name:     "with rule name",
			err:      &ValidationError{RuleName: "Groceries", Field: "priority", Reason: "must be between 1 and 1000"},
			expected: "invalid rule 'Groceries': priority: must be between 1 and 1000",
		},
		{
			name:     "without rule name",
			err:      &ValidationError{Field: "condition_type", Reason: "unknown type 'foo'"},
			expected: "invalid condition_type: unknown type 'foo'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestValidationErrors_As(t *testing.T) {
	errs := ValidationErrors{
		{Field: "name", Reason: "required"},
		{Field: "stage", Reason: "unknown stage 'late'"},
	}
	wrapped := fmt.Errorf("create rule: %w", errs)

	assert.True(t, IsValidation(wrapped))
	assert.Equal(t, "invalid name: required; invalid stage: unknown stage 'late'", errs.Error())
}

func TestEvaluationError(t *testing.T) {
	cause := errors.New("missing upper bound")
	err := &EvaluationError{ConditionID: "c1", ConditionType: "amount_range", Reason: "malformed operand", Err: cause}

	assert.Equal(t, "cannot evaluate amount_range condition c1: malformed operand: missing upper bound", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsEvaluation(fmt.Errorf("wrap: %w", err)))
	assert.False(t, IsApplication(err))
}

func TestApplicationError(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name     string
		err      *ApplicationError
		expected string
	}{
		{
			name:     "with action type",
			err:      &ApplicationError{RuleID: "r1", TransactionID: "t1", ActionType: "set_amount", Err: cause},
			expected: "rule r1 failed on transaction t1 applying set_amount: boom",
		},
		{
			name:     "commit failure",
			err:      &ApplicationError{RuleID: "r1", TransactionID: "t1", Err: cause},
			expected: "rule r1 failed on transaction t1: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
			assert.Equal(t, cause, tt.err.Unwrap())
			assert.True(t, IsApplication(tt.err))
		})
	}
}

func TestReferenceIntegrityError(t *testing.T) {
	err := &ReferenceIntegrityError{WorkspaceID: "ws1", EntityKind: "category", EntityID: "cat9"}

	assert.Equal(t, "category 'cat9' does not belong to workspace 'ws1'", err.Error())
	assert.True(t, IsReferenceIntegrity(fmt.Errorf("validate: %w", err)))
	assert.False(t, IsValidation(err))
}
