// Package applog builds and queries the audit trail of rule applications.
package applog

import (
	"context"
	"fmt"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/google/uuid"
)

// RecentLimit is the number of entries returned when listing the history
// of a single rule.
const RecentLimit = 50

// Recorder persists one log entry per rule that fired and lists them back.
type Recorder struct {
	store  store.ApplicationStore
	logger logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewRecorder creates a Recorder writing to s.
func NewRecorder(s store.ApplicationStore, logger logging.Logger) *Recorder {
	return &Recorder{
		store:  s,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// SetClock replaces the time source. Used by tests.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Entry builds the log entry for rule firing on tx. The entry is not
// persisted.
func (r *Recorder) Entry(rule *models.Rule, tx *models.Transaction, actions []models.AppliedAction, at time.Time) models.ApplicationLog {
	return models.ApplicationLog{
		ID:             r.newID(),
		WorkspaceID:    tx.WorkspaceID,
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		TransactionID:  tx.ID,
		AppliedAt:      at,
		ActionsApplied: append([]models.AppliedAction(nil), actions...),
	}
}

// Record commits the working copy of tx together with a new log entry and
// the statistics of rule. Nothing is written when it fails.
func (r *Recorder) Record(ctx context.Context, rule *models.Rule, working *models.Transaction, actions []models.AppliedAction) (models.ApplicationLog, error) {
	at := r.now()
	entry := r.Entry(rule, working, actions, at)
	commit := models.RuleCommit{
		RuleID:      rule.ID,
		Transaction: working,
		Log:         entry,
		AppliedAt:   at,
	}
	if err := r.store.CommitApplication(ctx, commit); err != nil {
		return models.ApplicationLog{}, fmt.Errorf("failed to record application of rule %s: %w", rule.ID, err)
	}

	r.logger.WithFields(
		logging.F(logging.FieldWorkspaceID, entry.WorkspaceID),
		logging.F(logging.FieldRuleID, entry.RuleID),
		logging.F(logging.FieldTransactionID, entry.TransactionID),
		logging.F(logging.FieldCount, len(entry.ActionsApplied)),
	).Debug("Rule application recorded")
	return entry, nil
}

// ForRule returns the most recent entries of one rule, newest first.
func (r *Recorder) ForRule(ctx context.Context, workspaceID, ruleID string) ([]models.ApplicationLog, error) {
	logs, err := r.store.ListApplicationLogs(ctx, store.LogFilter{
		WorkspaceID: workspaceID,
		RuleID:      ruleID,
		Limit:       RecentLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list logs of rule %s: %w", ruleID, err)
	}
	return logs, nil
}

// ForTransaction returns every entry recorded against one transaction.
func (r *Recorder) ForTransaction(ctx context.Context, workspaceID, transactionID string) ([]models.ApplicationLog, error) {
	logs, err := r.store.ListApplicationLogs(ctx, store.LogFilter{
		WorkspaceID:   workspaceID,
		TransactionID: transactionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list logs of transaction %s: %w", transactionID, err)
	}
	return logs, nil
}

// ForWorkspace returns the latest entries of a workspace. A non-positive
// limit returns everything.
func (r *Recorder) ForWorkspace(ctx context.Context, workspaceID string, limit int) ([]models.ApplicationLog, error) {
	logs, err := r.store.ListApplicationLogs(ctx, store.LogFilter{
		WorkspaceID: workspaceID,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list logs of workspace %s: %w", workspaceID, err)
	}
	return logs, nil
}
