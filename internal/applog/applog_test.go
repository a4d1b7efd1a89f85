package applog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Recorder, *store.MockRepository, *models.Rule, *models.Transaction) {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMockRepository()
	rule := &models.Rule{ID: "r1", WorkspaceID: "ws", Name: "Groceries", Stage: models.StageDefault, Active: true}
	require.NoError(t, repo.CreateRule(ctx, rule))
	tx := &models.Transaction{ID: "t1", WorkspaceID: "ws", Description: "SuperMarket"}
	require.NoError(t, repo.SaveTransaction(ctx, tx))

	rec := NewRecorder(repo, logging.NewMockLogger())
	return rec, repo, rule, tx
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	rec, repo, rule, tx := setup(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec.SetClock(func() time.Time { return at })

	working := tx.Clone()
	working.Category = &models.EntityRef{ID: "cat-food", Name: "Food"}
	actions := []models.AppliedAction{{ActionType: models.ActionSetCategory, ActionValue: "Food"}}

	entry, err := rec.Record(ctx, rule, working, actions)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "Groceries", entry.RuleName)
	assert.Equal(t, "ws", entry.WorkspaceID)
	assert.True(t, entry.AppliedAt.Equal(at))
	assert.Equal(t, "set_category=Food", entry.Summary())

	stored, err := repo.GetRule(ctx, "ws", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TimesApplied)

	logs, err := rec.ForRule(ctx, "ws", "r1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entry.ID, logs[0].ID)
}

func TestRecord_CommitFailure(t *testing.T) {
	ctx := context.Background()
	rec, repo, rule, tx := setup(t)
	repo.CommitHook = func(models.RuleCommit) error { return errors.New("disk full") }

	_, err := rec.Record(ctx, rule, tx.Clone(), []models.AppliedAction{{ActionType: models.ActionSetNotes, ActionValue: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	logs, err := rec.ForTransaction(ctx, "ws", "t1")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestForRule_Limit(t *testing.T) {
	ctx := context.Background()
	rec, _, rule, tx := setup(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < RecentLimit+5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		rec.SetClock(func() time.Time { return at })
		working := tx.Clone()
		working.Notes = fmt.Sprintf("n%d", i)
		_, err := rec.Record(ctx, rule, working, []models.AppliedAction{{ActionType: models.ActionSetNotes, ActionValue: working.Notes}})
		require.NoError(t, err)
	}

	logs, err := rec.ForRule(ctx, "ws", rule.ID)
	require.NoError(t, err)
	require.Len(t, logs, RecentLimit)
	assert.Equal(t, fmt.Sprintf("n%d", RecentLimit+4), logs[0].ActionsApplied[0].ActionValue)

	all, err := rec.ForWorkspace(ctx, "ws", 0)
	require.NoError(t, err)
	assert.Len(t, all, RecentLimit+5)
}
