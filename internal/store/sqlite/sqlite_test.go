package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEntities(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []models.Entity{
		{ID: "cat-food", WorkspaceID: "ws", Kind: models.EntityCategory, Name: "Food"},
		{ID: "cat-rent", WorkspaceID: "ws", Kind: models.EntityCategory, Name: "Rent"},
		{ID: "ben-acme", WorkspaceID: "ws", Kind: models.EntityBeneficiary, Name: "ACME"},
		{ID: "tag-work", WorkspaceID: "ws", Kind: models.EntityTag, Name: "work"},
		{ID: "cat-other", WorkspaceID: "other", Kind: models.EntityCategory, Name: "Other"},
	} {
		e := e
		require.NoError(t, s.SaveEntity(ctx, &e))
	}
}

func groceryRule() *models.Rule {
	return &models.Rule{
		ID:          "rule-1",
		WorkspaceID: "ws",
		Name:        "Groceries",
		RuleType:    models.RuleTypeCategorization,
		Stage:       models.StageDefault,
		Active:      true,
		Priority:    10,
		Conditions: []models.Condition{
			{Type: models.CondDescriptionContains, Operand: models.TextOperand{Value: "supermarket"}},
			{Type: models.CondDescriptionOneOf, Operand: models.TextListOperand{Values: []string{"a", "b"}}},
			{Type: models.CondCategoryOneOf, Operand: models.NewRefSetOperand([]models.EntityRef{{ID: "cat-food"}, {ID: "cat-rent"}})},
			{Type: models.CondAmountRange, Operand: models.AmountRangeOperand{
				Min: decimal.NewNullDecimal(decimal.NewFromInt(-100)),
				Max: decimal.NewNullDecimal(decimal.NewFromInt(0)),
			}},
		},
		Actions: []models.Action{
			{Type: models.ActionSetCategory, Value: models.RefValue{Ref: models.EntityRef{ID: "cat-food"}}},
			{Type: models.ActionAppendNotes, Value: models.TextValue{Value: "auto"}},
			{Type: models.ActionMarkCleared, Value: models.BoolValue{Value: true}},
		},
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var version int
	require.NoError(t, s2.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEntities(t, s)

	rule := groceryRule()
	require.NoError(t, s.CreateRule(ctx, rule))
	for _, c := range rule.Conditions {
		assert.NotEmpty(t, c.ID)
	}

	got, err := s.GetRule(ctx, "ws", "rule-1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Name)
	assert.Equal(t, 10, got.Priority)
	require.Len(t, got.Conditions, 4)
	require.Len(t, got.Actions, 3)

	assert.Equal(t, models.TextOperand{Value: "supermarket"}, got.Conditions[0].Operand)
	assert.Equal(t, models.TextListOperand{Values: []string{"a", "b"}}, got.Conditions[1].Operand)

	set, ok := got.Conditions[2].Operand.(models.RefSetOperand)
	require.True(t, ok)
	assert.True(t, set.Has("cat-rent"))
	require.Len(t, set.Refs, 2)
	assert.Equal(t, "Food", set.Refs[0].Name)

	rng, ok := got.Conditions[3].Operand.(models.AmountRangeOperand)
	require.True(t, ok)
	assert.True(t, rng.Min.Decimal.Equal(decimal.NewFromInt(-100)))

	assert.Equal(t, models.RefValue{Ref: models.EntityRef{ID: "cat-food", Name: "Food"}}, got.Actions[0].Value)
	assert.Equal(t, models.TextValue{Value: "auto"}, got.Actions[1].Value)
	assert.Equal(t, models.BoolValue{Value: true}, got.Actions[2].Value)

	_, err = s.GetRule(ctx, "other", "rule-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAndDeleteRule(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEntities(t, s)

	rule := groceryRule()
	require.NoError(t, s.CreateRule(ctx, rule))

	rule.Name = "Food shopping"
	rule.Conditions = rule.Conditions[:1]
	rule.Actions = rule.Actions[:1]
	rule.Active = false
	require.NoError(t, s.UpdateRule(ctx, rule))

	got, err := s.GetRule(ctx, "ws", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Food shopping", got.Name)
	assert.False(t, got.Active)
	assert.Len(t, got.Conditions, 1)
	assert.Len(t, got.Actions, 1)

	missing := groceryRule()
	missing.ID = "nope"
	assert.ErrorIs(t, s.UpdateRule(ctx, missing), store.ErrNotFound)

	require.NoError(t, s.DeleteRule(ctx, "ws", rule.ID))
	assert.ErrorIs(t, s.DeleteRule(ctx, "ws", rule.ID), store.ErrNotFound)
}

func TestListActiveRules_Ordering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mk := func(id, name string, stage models.Stage, priority int, active bool) {
		r := &models.Rule{ID: id, WorkspaceID: "ws", Name: name, RuleType: models.RuleTypeTag,
			Stage: stage, Active: active, Priority: priority}
		require.NoError(t, s.CreateRule(ctx, r))
	}
	mk("r1", "beta", models.StageDefault, 50, true)
	mk("r2", "alpha", models.StageDefault, 50, true)
	mk("r3", "zulu", models.StageDefault, 1, true)
	mk("r4", "off", models.StageDefault, 1, false)
	mk("r5", "early", models.StagePre, 1, true)

	rules, err := s.ListActiveRules(ctx, "ws", models.StageDefault, nil)
	require.NoError(t, err)
	var names []string
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"zulu", "alpha", "beta"}, names)

	rules, err = s.ListActiveRules(ctx, "ws", models.StageDefault, []string{"r1", "r2", "r5"})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "alpha", rules[0].Name)
	assert.Equal(t, "beta", rules[1].Name)

	found, err := s.FindRuleByName(ctx, "ws", models.StagePre, models.RuleTypeTag, "early")
	require.NoError(t, err)
	assert.Equal(t, "r5", found.ID)
	_, err = s.FindRuleByName(ctx, "ws", models.StageDefault, models.RuleTypeTag, "early")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEntities(t, s)

	tx := &models.Transaction{
		ID:              "tx-1",
		WorkspaceID:     "ws",
		Description:     "SuperMarket 123",
		Amount:          decimal.RequireFromString("-42.50"),
		Date:            time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TransactionType: models.TransactionTypeExpense,
		Beneficiary:     &models.EntityRef{ID: "ben-acme"},
		Tags:            []models.EntityRef{{ID: "tag-work"}},
		Notes:           "n",
	}
	require.NoError(t, s.SaveTransaction(ctx, tx))

	got, err := s.GetTransaction(ctx, "ws", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "SuperMarket 123", got.Description)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("-42.5")))
	assert.True(t, models.SameDay(tx.Date, got.Date))
	assert.Nil(t, got.Category)
	require.NotNil(t, got.Beneficiary)
	assert.Equal(t, "ACME", got.Beneficiary.Name)
	assert.Equal(t, []models.EntityRef{{ID: "tag-work", Name: "work"}}, got.Tags)

	other := &models.Transaction{ID: "tx-0", WorkspaceID: "ws", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.SaveTransaction(ctx, other))

	all, err := s.ListTransactions(ctx, "ws", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tx-0", all[0].ID)

	some, err := s.ListTransactions(ctx, "ws", []string{"tx-1", "missing", "tx-0"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "tx-1", some[0].ID)
	assert.Equal(t, "tx-0", some[1].ID)
}

func TestSaveTransaction_WorkspaceOwnership(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	owned := &models.Transaction{ID: "shared", WorkspaceID: "ws-2", Description: "owned by ws-2",
		Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.SaveTransaction(ctx, owned))

	intruder := &models.Transaction{ID: "shared", WorkspaceID: "ws-1", Description: "imported by ws-1",
		Date: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)}
	err := s.SaveTransaction(ctx, intruder)
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetTransaction(ctx, "ws-2", "shared")
	require.NoError(t, err)
	assert.Equal(t, "owned by ws-2", got.Description)
	_, err = s.GetTransaction(ctx, "ws-1", "shared")
	assert.ErrorIs(t, err, store.ErrNotFound)

	owned.Description = "updated by ws-2"
	require.NoError(t, s.SaveTransaction(ctx, owned))
	got, err = s.GetTransaction(ctx, "ws-2", "shared")
	require.NoError(t, err)
	assert.Equal(t, "updated by ws-2", got.Description)
}

func TestCommitApplication(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEntities(t, s)

	rule := groceryRule()
	require.NoError(t, s.CreateRule(ctx, rule))
	tx := &models.Transaction{ID: "tx-1", WorkspaceID: "ws", Description: "SuperMarket",
		Amount: decimal.NewFromInt(-10), Date: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.SaveTransaction(ctx, tx))

	at := time.Date(2024, 3, 16, 8, 30, 0, 0, time.UTC)
	mutated := tx.Clone()
	mutated.Category = &models.EntityRef{ID: "cat-food", Name: "Food"}
	commit := models.RuleCommit{
		RuleID:      rule.ID,
		Transaction: mutated,
		AppliedAt:   at,
		Log: models.ApplicationLog{
			WorkspaceID:   "ws",
			RuleID:        rule.ID,
			RuleName:      rule.Name,
			TransactionID: tx.ID,
			AppliedAt:     at,
			ActionsApplied: []models.AppliedAction{
				{ActionType: models.ActionSetCategory, ActionValue: "Food"},
			},
		},
	}
	require.NoError(t, s.CommitApplication(ctx, commit))

	got, err := s.GetTransaction(ctx, "ws", tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Category)
	assert.Equal(t, "cat-food", got.Category.ID)

	stored, err := s.GetRule(ctx, "ws", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TimesApplied)
	require.NotNil(t, stored.LastAppliedAt)
	assert.True(t, stored.LastAppliedAt.Equal(at))

	logs, err := s.ListApplicationLogs(ctx, store.LogFilter{RuleID: rule.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Groceries", logs[0].RuleName)
	assert.Equal(t, commit.Log.ActionsApplied, logs[0].ActionsApplied)
	assert.NotEmpty(t, logs[0].ID)
}

func TestCommitApplication_RollsBackOnUnknownRule(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx := &models.Transaction{ID: "tx-1", WorkspaceID: "ws", Description: "before"}
	require.NoError(t, s.SaveTransaction(ctx, tx))

	mutated := tx.Clone()
	mutated.Description = "after"
	err := s.CommitApplication(ctx, models.RuleCommit{
		RuleID:      "ghost",
		Transaction: mutated,
		AppliedAt:   time.Now(),
		Log:         models.ApplicationLog{RuleID: "ghost", TransactionID: tx.ID, WorkspaceID: "ws"},
	})
	require.Error(t, err)

	got, err := s.GetTransaction(ctx, "ws", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", got.Description)

	logs, err := s.ListApplicationLogs(ctx, store.LogFilter{TransactionID: tx.ID})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetSettings(ctx, "ws")
	assert.ErrorIs(t, err, store.ErrNotFound)

	st := models.DefaultSettings("ws")
	st.AutoCreateBeneficiaryRules = false
	st.DisabledBeneficiaries = []string{"ben-1"}
	require.NoError(t, s.SaveSettings(ctx, &st))

	got, err := s.GetSettings(ctx, "ws")
	require.NoError(t, err)
	assert.True(t, got.AutoLearningEnabled)
	assert.False(t, got.AutoCreateBeneficiaryRules)
	assert.Equal(t, []string{"ben-1"}, got.DisabledBeneficiaries)

	st.AutoLearningEnabled = false
	require.NoError(t, s.SaveSettings(ctx, &st))
	got, err = s.GetSettings(ctx, "ws")
	require.NoError(t, err)
	assert.False(t, got.AutoLearningEnabled)
}

func TestEntities(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEntities(t, s)

	e, err := s.LookupEntity(ctx, models.EntityCategory, "cat-other")
	require.NoError(t, err)
	assert.Equal(t, "other", e.WorkspaceID)

	_, err = s.LookupEntity(ctx, models.EntityTag, "cat-other")
	assert.ErrorIs(t, err, store.ErrNotFound)

	cats, err := s.ListEntities(ctx, "ws", models.EntityCategory)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Food", cats[0].Name)
}
