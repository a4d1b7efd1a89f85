// Package ruleerror defines the error taxonomy of the rule engine.
package ruleerror

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed rule, condition or action definition.
// It is raised at authoring time.
type ValidationError struct {
	RuleName string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.RuleName != "" {
		return fmt.Sprintf("invalid rule '%s': %s: %s", e.RuleName, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidationErrors aggregates every problem found in one definition.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, v := range e {
		errs = append(errs, v)
	}
	return errs
}

// EvaluationError reports a condition that could not be evaluated. The
// condition is treated as a non-match.
type EvaluationError struct {
	ConditionID   string
	ConditionType string
	Reason        string
	Err           error
}

func (e *EvaluationError) Error() string {
	msg := fmt.Sprintf("cannot evaluate %s condition", e.ConditionType)
	if e.ConditionID != "" {
		msg += fmt.Sprintf(" %s", e.ConditionID)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ApplicationError reports a failure while applying one rule's actions.
// The rule's whole batch is discarded.
type ApplicationError struct {
	RuleID        string
	TransactionID string
	ActionType    string
	Err           error
}

func (e *ApplicationError) Error() string {
	if e.ActionType != "" {
		return fmt.Sprintf("rule %s failed on transaction %s applying %s: %v",
			e.RuleID, e.TransactionID, e.ActionType, e.Err)
	}
	return fmt.Sprintf("rule %s failed on transaction %s: %v", e.RuleID, e.TransactionID, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// ReferenceIntegrityError reports a condition or action that references an
// entity outside the rule's workspace, or one that does not exist.
type ReferenceIntegrityError struct {
	WorkspaceID string
	EntityKind  string
	EntityID    string
}

func (e *ReferenceIntegrityError) Error() string {
	return fmt.Sprintf("%s '%s' does not belong to workspace '%s'", e.EntityKind, e.EntityID, e.WorkspaceID)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEvaluation reports whether err is or wraps an EvaluationError.
func IsEvaluation(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}

// IsApplication reports whether err is or wraps an ApplicationError.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// IsReferenceIntegrity reports whether err is or wraps a ReferenceIntegrityError.
func IsReferenceIntegrity(err error) bool {
	var re *ReferenceIntegrityError
	return errors.As(err, &re)
}
