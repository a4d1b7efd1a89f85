package models

import (
	"strings"
	"time"
)

// ApplicationLog is the append-only audit record of one rule firing
// against one transaction.
type ApplicationLog struct {
	ID             string          `json:"id"`
	WorkspaceID    string          `json:"workspace_id"`
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	TransactionID  string          `json:"transaction_id"`
	AppliedAt      time.Time       `json:"applied_at"`
	ActionsApplied []AppliedAction `json:"actions_applied"`
}

// Summary renders the applied actions as a single line.
func (l ApplicationLog) Summary() string {
	parts := make([]string, 0, len(l.ActionsApplied))
	for _, a := range l.ActionsApplied {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, "; ")
}

// RuleCommit bundles everything persisted when a rule fires: the mutated
// transaction, its log entry and the rule whose statistics are bumped.
// Stores write it atomically.
type RuleCommit struct {
	RuleID      string
	Transaction *Transaction
	Log         ApplicationLog
	AppliedAt   time.Time
}

// AppliedRuleResult reports one rule that fired during ApplyRules.
type AppliedRuleResult struct {
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	Stage          Stage           `json:"stage"`
	ActionsApplied []AppliedAction `json:"actions_applied"`
}

// TransactionResult groups applied rules per transaction for batch runs.
type TransactionResult struct {
	TransactionID string              `json:"transaction_id"`
	AppliedRules  []AppliedRuleResult `json:"applied_rules"`
}

// MatchedRule identifies a rule that matched during a test run.
type MatchedRule struct {
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name"`
	RuleType RuleType `json:"rule_type"`
	Stage    Stage    `json:"stage"`
}

// ActionOutcome reports whether an action of a matched rule qualifies.
type ActionOutcome struct {
	RuleID      string     `json:"rule_id"`
	ActionType  ActionType `json:"action_type"`
	ActionValue string     `json:"action_value"`
	WouldApply  bool       `json:"would_apply"`
}

// TestResult is the per-transaction outcome of a test run.
type TestResult struct {
	TransactionID     string          `json:"transaction_id"`
	Description       string          `json:"transaction_description"`
	Amount            string          `json:"transaction_amount"`
	MatchedRules      []MatchedRule   `json:"matched_rules"`
	WouldApplyActions []ActionOutcome `json:"would_apply_actions"`
	AppliedActions    []ActionOutcome `json:"applied_actions"`
}
