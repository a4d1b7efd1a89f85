package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/config"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, format string) *store.MockRepository {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMockRepository()

	restore := root.NewContainer
	root.NewContainer = func() (*container.Container, error) {
		return container.NewContainerWithRepository(config.Default(), repo, logging.NewMockLogger())
	}
	root.SharedFlags = root.CommonFlags{Workspace: "ws-1", Format: format}
	ruleIDs, transactionIDs, apply = nil, nil, false
	t.Cleanup(func() { root.NewContainer = restore })

	require.NoError(t, repo.CreateRule(ctx, &models.Rule{
		ID: "r-big", WorkspaceID: "ws-1", Name: "Large expense", RuleType: models.RuleTypeCombination,
		Stage: models.StageDefault, Active: true, Priority: 50,
		Conditions: []models.Condition{{ID: "c1", Type: models.CondAmountLess,
			Operand: models.AmountOperand{Value: decimal.NewNullDecimal(decimal.NewFromInt(-1000))}}},
		Actions: []models.Action{{ID: "a1", Type: models.ActionSetNotes,
			Value: models.TextValue{Value: "check"}}},
	}))
	for _, tx := range []*models.Transaction{
		{ID: "t1", WorkspaceID: "ws-1", Description: "Rent", Amount: decimal.NewFromInt(-1500),
			Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "t2", WorkspaceID: "ws-1", Description: "Coffee", Amount: decimal.NewFromInt(-4),
			Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	} {
		require.NoError(t, repo.SaveTransaction(ctx, tx))
	}
	return repo
}

func execute(t *testing.T) (string, error) {
	t.Helper()
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetArgs([]string{})
	err := Cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateCommand_Preview(t *testing.T) {
	repo := setup(t, "text")

	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Transaction t1")
	assert.Contains(t, out, "Large expense (default)")
	assert.Contains(t, out, "[x] set_notes = check")
	assert.NotContains(t, out, "Transaction t2")

	tx, err := repo.GetTransaction(context.Background(), "ws-1", "t1")
	require.NoError(t, err)
	assert.Empty(t, tx.Notes)
}

func TestSimulateCommand_ApplyJSON(t *testing.T) {
	repo := setup(t, "json")
	apply = true

	out, err := execute(t)
	require.NoError(t, err)
	var results []models.TestResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Len(t, results[0].AppliedActions, 1)

	tx, err := repo.GetTransaction(context.Background(), "ws-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "check", tx.Notes)
}
