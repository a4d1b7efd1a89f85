package importcsv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/config"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transactionsCSV = `id,date,description,amount,transaction_type,category,beneficiary,account,tags,notes,cleared
t1,2024-01-15,MIGROS Lausanne,-45.50,expense,,,,,,
t2,2024-01-16,Salary,3000,income,,,,,,
t3,yesterday,Broken,-1,expense,,,,,,
`

func setup(t *testing.T) *store.MockRepository {
	t.Helper()
	repo := store.NewMockRepository()
	restore := root.NewContainer
	root.NewContainer = func() (*container.Container, error) {
		return container.NewContainerWithRepository(config.Default(), repo, logging.NewMockLogger())
	}
	root.SharedFlags = root.CommonFlags{Workspace: "ws-1", Format: "text"}
	noRules, output = false, ""
	t.Cleanup(func() { root.NewContainer = restore })

	ctx := context.Background()
	require.NoError(t, repo.SaveEntity(ctx, &models.Entity{
		ID: "cat-groceries", WorkspaceID: "ws-1", Kind: models.EntityCategory, Name: "Groceries"}))
	require.NoError(t, repo.CreateRule(ctx, &models.Rule{
		ID: "r1", WorkspaceID: "ws-1", Name: "Migros", RuleType: models.RuleTypeCategorization,
		Stage: models.StageDefault, Active: true, Priority: 10,
		Conditions: []models.Condition{{ID: "c1", Type: models.CondDescriptionContains,
			Operand: models.TextOperand{Value: "migros"}}},
		Actions: []models.Action{{ID: "a1", Type: models.ActionSetCategory,
			Value: models.RefValue{Ref: models.EntityRef{ID: "cat-groceries", Name: "Groceries"}}}},
	}))
	return repo
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(transactionsCSV), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&out)
	Cmd.SetArgs(append([]string{}, args...))
	err := Cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportCommand_AppliesRules(t *testing.T) {
	repo := setup(t)
	out := filepath.Join(t.TempDir(), "result.csv")

	stdout, err := execute(t, writeCSV(t), "--output", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "imported: 2, skipped: 1, changed by rules: 1")
	assert.Contains(t, stdout, "skipped line 4")
	assert.Contains(t, stdout, "set_category=Groceries")

	tx, err := repo.GetTransaction(context.Background(), "ws-1", "t1")
	require.NoError(t, err)
	require.NotNil(t, tx.Category)
	assert.Equal(t, "cat-groceries", tx.Category.ID)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "MIGROS Lausanne,-45.50,expense,Groceries")
}

func TestImportCommand_NoRules(t *testing.T) {
	repo := setup(t)

	stdout, err := execute(t, writeCSV(t), "--no-rules")
	require.NoError(t, err)
	assert.Contains(t, stdout, "changed by rules: 0")
	assert.Empty(t, repo.Logs())
}

func TestImportCommand_MissingFile(t *testing.T) {
	setup(t)
	_, err := execute(t, filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
}
