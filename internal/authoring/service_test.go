package authoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/ruleerror"
	"fjacquet/txrules/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ws = "ws-1"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *store.MockRepository
	logger  *logging.MockLogger
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMockRepository()
	for _, e := range []models.Entity{
		{ID: "cat-groceries", WorkspaceID: ws, Kind: models.EntityCategory, Name: "Groceries"},
		{ID: "cat-dining", WorkspaceID: ws, Kind: models.EntityCategory, Name: "Dining"},
		{ID: "ben-acme", WorkspaceID: ws, Kind: models.EntityBeneficiary, Name: "ACME"},
		{ID: "cat-foreign", WorkspaceID: "ws-2", Kind: models.EntityCategory, Name: "Elsewhere"},
	} {
		e := e
		require.NoError(t, repo.SaveEntity(ctx, &e))
	}
	logger := logging.NewMockLogger()
	svc := NewService(repo, repo, logger)
	svc.SetClock(func() time.Time { return fixedNow })
	return &fixture{repo: repo, logger: logger, service: svc}
}

func groceriesRule() *models.Rule {
	return &models.Rule{
		WorkspaceID: ws,
		Name:        "  Groceries  ",
		RuleType:    models.RuleTypeCategorization,
		Active:      true,
		Conditions: []models.Condition{
			{Type: models.CondDescriptionContains, Operand: models.TextOperand{Value: "super"}},
			{Type: models.CondBeneficiaryOneOf, Operand: models.NewRefSetOperand([]models.EntityRef{{ID: "ben-acme"}})},
		},
		Actions: []models.Action{
			{Type: models.ActionSetCategory, Value: models.RefValue{Ref: models.EntityRef{ID: "cat-groceries"}}},
		},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.service.Create(ctx, groceriesRule())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	r := res.Rule
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Groceries", r.Name)
	assert.Equal(t, models.StageDefault, r.Stage)
	assert.Equal(t, models.DefaultPriority, r.Priority)
	assert.Equal(t, fixedNow, r.CreatedAt)
	for _, c := range r.Conditions {
		assert.NotEmpty(t, c.ID)
	}
	assert.Equal(t, models.RefValue{Ref: models.EntityRef{ID: "cat-groceries", Name: "Groceries"}}, r.Actions[0].Value)
	refs := r.Conditions[1].Operand.(models.RefSetOperand)
	assert.Equal(t, "ACME", refs.Refs[0].Name)

	stored, err := f.repo.GetRule(ctx, ws, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", stored.Name)
	assert.Equal(t, "Groceries", stored.Actions[0].DisplayValue())
	assert.True(t, f.logger.HasEntry("INFO", "Rule created"))
}

func TestCreate_DoesNotModifyInput(t *testing.T) {
	f := newFixture(t)
	in := groceriesRule()
	_, err := f.service.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, in.ID)
	assert.Equal(t, models.RefValue{Ref: models.EntityRef{ID: "cat-groceries"}}, in.Actions[0].Value)
}

func TestCreate_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *models.Rule)
		refError bool
	}{
		{name: "priority out of range", mutate: func(r *models.Rule) { r.Priority = 1001 }},
		{name: "missing workspace", mutate: func(r *models.Rule) { r.WorkspaceID = "" }},
		{name: "bad regex", mutate: func(r *models.Rule) {
			r.Conditions[0] = models.Condition{Type: models.CondDescriptionMatches, Operand: models.TextOperand{Value: "(("}}
		}},
		{name: "unknown category", refError: true, mutate: func(r *models.Rule) {
			r.Actions[0].Value = models.RefValue{Ref: models.EntityRef{ID: "cat-missing"}}
		}},
		{name: "category from another workspace", refError: true, mutate: func(r *models.Rule) {
			r.Actions[0].Value = models.RefValue{Ref: models.EntityRef{ID: "cat-foreign"}}
		}},
		{name: "one-of beneficiary from another workspace", refError: true, mutate: func(r *models.Rule) {
			r.Conditions[1].Operand = models.NewRefSetOperand([]models.EntityRef{{ID: "ben-acme"}, {ID: "cat-foreign"}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rule := groceriesRule()
			tt.mutate(rule)

			_, err := f.service.Create(context.Background(), rule)
			require.Error(t, err)
			if tt.refError {
				assert.True(t, ruleerror.IsReferenceIntegrity(err), err.Error())
			} else {
				assert.True(t, ruleerror.IsValidation(err), err.Error())
			}
			rules, err := f.repo.ListRules(context.Background(), ws)
			require.NoError(t, err)
			assert.Empty(t, rules)
		})
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service.Create(ctx, groceriesRule())
	require.NoError(t, err)

	_, err = f.service.Create(ctx, groceriesRule())
	require.Error(t, err)
	assert.True(t, ruleerror.IsValidation(err))
	assert.Contains(t, err.Error(), "already used")

	post := groceriesRule()
	post.Stage = models.StagePost
	_, err = f.service.Create(ctx, post)
	assert.NoError(t, err, "same name in another stage is allowed")
}

func TestCreate_NoConditionsWarning(t *testing.T) {
	f := newFixture(t)
	rule := groceriesRule()
	rule.Conditions = nil

	res, err := f.service.Create(context.Background(), rule)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningNoConditions, res.Warnings[0].Code)
	assert.Equal(t, res.Rule.ID, res.Warnings[0].RuleID)
	assert.True(t, f.logger.HasEntry("WARN", "Active rule has no conditions"))
}

func TestCreate_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.CreateRuleError = errors.New("disk full")
	_, err := f.service.Create(context.Background(), groceriesRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestUpdate_KeepsStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.service.Create(ctx, groceriesRule())
	require.NoError(t, err)
	id := res.Rule.ID

	require.NoError(t, f.repo.CommitApplication(ctx, models.RuleCommit{
		RuleID:      id,
		Transaction: &models.Transaction{ID: "t1", WorkspaceID: ws},
		Log:         models.ApplicationLog{ID: "log-1", RuleID: id, TransactionID: "t1", WorkspaceID: ws},
		AppliedAt:   fixedNow,
	}))

	later := fixedNow.Add(time.Hour)
	f.service.SetClock(func() time.Time { return later })

	update := groceriesRule()
	update.ID = id
	update.Name = "Groceries and more"
	update.Priority = 7
	res, err = f.service.Update(ctx, update)
	require.NoError(t, err)

	stored, err := f.repo.GetRule(ctx, ws, id)
	require.NoError(t, err)
	assert.Equal(t, "Groceries and more", stored.Name)
	assert.Equal(t, 7, stored.Priority)
	assert.Equal(t, 1, stored.TimesApplied)
	require.NotNil(t, stored.LastAppliedAt)
	assert.Equal(t, fixedNow, stored.CreatedAt)
	assert.Equal(t, later, stored.UpdatedAt)
}

func TestUpdate_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	missing := groceriesRule()
	missing.ID = "nope"
	_, err := f.service.Update(ctx, missing)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := f.service.Create(ctx, groceriesRule())
	require.NoError(t, err)
	other := groceriesRule()
	other.Name = "Dining"
	second, err := f.service.Create(ctx, other)
	require.NoError(t, err)

	rename := second.Rule.Clone()
	rename.Name = first.Rule.Name
	_, err = f.service.Update(ctx, rename)
	assert.True(t, ruleerror.IsValidation(err))

	same := first.Rule.Clone()
	same.Priority = 2
	_, err = f.service.Update(ctx, same)
	assert.NoError(t, err, "keeping its own name is allowed")
}

func TestSetActiveAndToggle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rule := groceriesRule()
	rule.Active = false
	rule.Conditions = nil
	res, err := f.service.Create(ctx, rule)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings, "inactive rules do not warn")
	id := res.Rule.ID

	res, err = f.service.Toggle(ctx, ws, id)
	require.NoError(t, err)
	assert.True(t, res.Rule.Active)
	require.Len(t, res.Warnings, 1, "activating a rule without conditions warns")

	res, err = f.service.SetActive(ctx, ws, id, false)
	require.NoError(t, err)
	assert.False(t, res.Rule.Active)

	stored, err := f.repo.GetRule(ctx, ws, id)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = f.service.Toggle(ctx, "ws-2", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.service.Create(ctx, groceriesRule())
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, ws, res.Rule.ID))
	_, err = f.repo.GetRule(ctx, ws, res.Rule.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, f.service.Delete(ctx, ws, res.Rule.ID), store.ErrNotFound)
}
