package rules

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
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

const ruleFile = `rules:
  - name: Detect ACME
    rule_type: beneficiary
    stage: pre
    priority: 5
    conditions:
      - condition_type: description_contains
        text_value: acme
    actions:
      - action_type: set_beneficiary
        ref: {id: ben-acme}
  - name: Groceries
    rule_type: categorization
    priority: 20
    conditions:
      - condition_type: beneficiary_one_of
        refs: [{id: ben-acme}]
    actions:
      - action_type: set_category
        ref: {id: cat-groceries}
`

func setup(t *testing.T) *store.MockRepository {
	t.Helper()
	repo := store.NewMockRepository()
	restore := root.NewContainer
	root.NewContainer = func() (*container.Container, error) {
		return container.NewContainerWithRepository(config.Default(), repo, logging.NewMockLogger())
	}
	root.SharedFlags = root.CommonFlags{Workspace: "ws-1", Format: "text"}
	owner, logLimit, activate = "", 50, false
	t.Cleanup(func() { root.NewContainer = restore })

	for _, e := range []models.Entity{
		{ID: "ben-acme", WorkspaceID: "ws-1", Kind: models.EntityBeneficiary, Name: "ACME"},
		{ID: "cat-groceries", WorkspaceID: "ws-1", Kind: models.EntityCategory, Name: "Groceries"},
	} {
		e := e
		require.NoError(t, repo.SaveEntity(context.Background(), &e))
	}
	return repo
}

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
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

func TestRulesCommand_SubCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"list", "import", "export", "toggle", "delete", "logs", "validate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRulesCommand_ImportListExport(t *testing.T) {
	repo := setup(t)
	path := writeRuleFile(t, ruleFile)

	out, err := execute(t, "import", path, "--owner", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "created: 2, updated: 0, failed: 0\n", out)

	rules, err := repo.ListRules(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "STAGE")
	assert.Less(t, bytes.Index([]byte(out), []byte("Detect ACME")), bytes.Index([]byte(out), []byte("Groceries")))

	exported := filepath.Join(t.TempDir(), "out", "rules.yaml")
	_, err = execute(t, "export", exported)
	require.NoError(t, err)
	docs, err := store.LoadRuleFile(exported)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Detect ACME", docs[0].Name)
	assert.Equal(t, models.StagePre, docs[0].Stage)

	out, err = execute(t, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "rules:")
	assert.Contains(t, out, "name: Groceries")
}

func TestRulesCommand_ToggleAndDelete(t *testing.T) {
	repo := setup(t)
	_, err := execute(t, "import", writeRuleFile(t, ruleFile))
	require.NoError(t, err)
	rule, err := repo.FindRuleByName(context.Background(), "ws-1", models.StagePre, models.RuleTypeBeneficiary, "Detect ACME")
	require.NoError(t, err)

	out, err := execute(t, "toggle", rule.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "no")
	stored, err := repo.GetRule(context.Background(), "ws-1", rule.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = execute(t, "toggle", rule.ID, "--active=true")
	require.NoError(t, err)
	stored, err = repo.GetRule(context.Background(), "ws-1", rule.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)

	_, err = execute(t, "delete", rule.ID)
	require.NoError(t, err)
	_, err = repo.GetRule(context.Background(), "ws-1", rule.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = execute(t, "delete", rule.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRulesCommand_Logs(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.CreateRule(context.Background(), &models.Rule{
		ID: "r1", WorkspaceID: "ws-1", Name: "Detect ACME", RuleType: models.RuleTypeBeneficiary,
		Stage: models.StagePre, Active: true, Priority: 5,
	}))
	require.NoError(t, repo.CommitApplication(context.Background(), models.RuleCommit{
		RuleID:      "r1",
		Transaction: &models.Transaction{ID: "t1", WorkspaceID: "ws-1"},
		Log: models.ApplicationLog{
			ID: "l1", WorkspaceID: "ws-1", RuleID: "r1", RuleName: "Detect ACME", TransactionID: "t1",
			ActionsApplied: []models.AppliedAction{{ActionType: models.ActionSetBeneficiary, ActionValue: "ACME"}},
		},
	}))

	out, err := execute(t, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "set_beneficiary=ACME")

	out, err = execute(t, "logs", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, "Detect ACME")

	out, err = execute(t, "logs", "other")
	require.NoError(t, err)
	assert.NotContains(t, out, "Detect ACME")
}

func TestRulesCommand_Validate(t *testing.T) {
	setup(t)

	out, err := execute(t, "validate", writeRuleFile(t, ruleFile))
	require.NoError(t, err)
	assert.Equal(t, "2 rules are valid\n", out)

	bad := `rules:
  - name: Bad regex
    rule_type: tag
    priority: 2000
    conditions:
      - condition_type: description_matches
        text_value: "([a-z"
    actions: []
`
	out, err = execute(t, "validate", writeRuleFile(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 rules are invalid")
	assert.Contains(t, out, "rule 1 (Bad regex)")
}
