package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fjacquet/txrules/internal/authoring"
	"fjacquet/txrules/internal/common"
	"fjacquet/txrules/internal/config"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "/api/workspaces/ws-1"

type fixture struct {
	repo   *store.MockRepository
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMockRepository()
	for _, e := range []models.Entity{
		{ID: "cat-dining", WorkspaceID: "ws-1", Kind: models.EntityCategory, Name: "Dining"},
		{ID: "cat-foreign", WorkspaceID: "ws-2", Kind: models.EntityCategory, Name: "Elsewhere"},
		{ID: "ben-bistro", WorkspaceID: "ws-1", Kind: models.EntityBeneficiary, Name: "Bistro Central"},
	} {
		e := e
		require.NoError(t, repo.SaveEntity(ctx, &e))
	}
	for _, tx := range []*models.Transaction{
		{ID: "t1", WorkspaceID: "ws-1", Description: "Lunch at Bistro Central",
			Amount: decimal.NewFromInt(-25), Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			TransactionType: models.TransactionTypeExpense},
		{ID: "t2", WorkspaceID: "ws-1", Description: "Salary March",
			Amount: decimal.NewFromInt(3000), Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			TransactionType: models.TransactionTypeIncome},
	} {
		require.NoError(t, repo.SaveTransaction(ctx, tx))
	}

	c, err := container.NewContainerWithRepository(config.Default(), repo, logging.NewMockLogger())
	require.NoError(t, err)
	server := httptest.NewServer(NewRouter(c))
	t.Cleanup(func() {
		server.Close()
		_ = c.Close()
	})
	return &fixture{repo: repo, server: server}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

const diningRule = `{
	"name": "Restaurants",
	"rule_type": "categorization",
	"active": true,
	"priority": 10,
	"conditions": [{"condition_type": "description_contains", "text_value": "bistro"}],
	"actions": [{"action_type": "set_category", "ref": {"id": "cat-dining"}}]
}`

func (f *fixture) createRule(t *testing.T, body string) *models.Rule {
	t.Helper()
	status, out := f.do(t, http.MethodPost, base+"/rules", body)
	require.Equal(t, http.StatusCreated, status, string(out))
	var res authoring.Result
	require.NoError(t, json.Unmarshal(out, &res))
	require.NotNil(t, res.Rule)
	return res.Rule
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, out := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(out))
}

func TestRulesCRUD(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, diningRule)
	assert.Equal(t, models.StageDefault, rule.Stage)
	assert.Equal(t, "Dining", rule.Actions[0].DisplayValue(), "reference names are resolved")

	status, out := f.do(t, http.MethodGet, base+"/rules", "")
	require.Equal(t, http.StatusOK, status)
	var rules []models.Rule
	require.NoError(t, json.Unmarshal(out, &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "Restaurants", rules[0].Name)

	update := strings.Replace(diningRule, `"priority": 10`, `"priority": 20`, 1)
	status, out = f.do(t, http.MethodPut, base+"/rules/"+rule.ID, update)
	require.Equal(t, http.StatusOK, status, string(out))
	stored, err := f.repo.GetRule(context.Background(), "ws-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, stored.Priority)

	status, out = f.do(t, http.MethodPost, base+"/rules/"+rule.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, status)
	var toggled authoring.Result
	require.NoError(t, json.Unmarshal(out, &toggled))
	assert.False(t, toggled.Rule.Active)

	status, _ = f.do(t, http.MethodDelete, base+"/rules/"+rule.ID, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodGet, base+"/rules/"+rule.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateRule_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{"name":`, http.StatusBadRequest},
		{"invalid priority", strings.Replace(diningRule, `"priority": 10`, `"priority": 5000`, 1), http.StatusBadRequest},
		{"foreign reference", strings.Replace(diningRule, "cat-dining", "cat-foreign", 1), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := f.do(t, http.MethodPost, base+"/rules", tt.body)
			assert.Equal(t, tt.status, status, string(out))
		})
	}

	status, out := f.do(t, http.MethodPost, base+"/rules", strings.Replace(diningRule, `"priority": 10`, `"priority": 0, "name": ""`, 1))
	require.Equal(t, http.StatusBadRequest, status)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "invalid rule", resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestApplyRules(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, diningRule)

	status, out := f.do(t, http.MethodPost, base+"/transactions/t1/apply", "")
	require.Equal(t, http.StatusOK, status, string(out))
	var resp applyResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.AppliedRules, 1)
	assert.Equal(t, rule.ID, resp.AppliedRules[0].RuleID)
	require.NotNil(t, resp.Transaction.Category)
	assert.Equal(t, "cat-dining", resp.Transaction.Category.ID)

	status, out = f.do(t, http.MethodGet, base+"/rules/"+rule.ID+"/logs", "")
	require.Equal(t, http.StatusOK, status)
	var logs []models.ApplicationLog
	require.NoError(t, json.Unmarshal(out, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "t1", logs[0].TransactionID)

	status, out = f.do(t, http.MethodGet, base+"/transactions/t1/logs", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(out, &logs))
	assert.Len(t, logs, 1)

	status, out = f.do(t, http.MethodGet, base+"/logs?limit=10", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(out, &logs))
	assert.Len(t, logs, 1)

	status, _ = f.do(t, http.MethodGet, base+"/logs?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, base+"/transactions/missing/apply", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestApplyBatch(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, diningRule)

	status, out := f.do(t, http.MethodPost, base+"/transactions/apply", `{"transaction_ids": ["t1", "t2"]}`)
	require.Equal(t, http.StatusOK, status, string(out))
	var results []models.TransactionResult
	require.NoError(t, json.Unmarshal(out, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].TransactionID)
}

func TestTestRule_DoesNotMutate(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, diningRule)

	status, out := f.do(t, http.MethodPost, base+"/rules/"+rule.ID+"/test", "")
	require.Equal(t, http.StatusOK, status, string(out))
	var results []models.TestResult
	require.NoError(t, json.Unmarshal(out, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].TransactionID)
	require.Len(t, results[0].WouldApplyActions, 1)
	assert.True(t, results[0].WouldApplyActions[0].WouldApply)

	tx, err := f.repo.GetTransaction(context.Background(), "ws-1", "t1")
	require.NoError(t, err)
	assert.Nil(t, tx.Category)
	assert.Empty(t, f.repo.Logs())

	status, _ = f.do(t, http.MethodPost, base+"/rules/unknown/test", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, out = f.do(t, http.MethodPost, base+"/rules/test", `{"apply": true}`)
	require.Equal(t, http.StatusOK, status, string(out))
	require.NoError(t, json.Unmarshal(out, &results))
	require.Len(t, results, 1)
	assert.Len(t, results[0].AppliedActions, 1)
}

func TestSuggestRule(t *testing.T) {
	f := newFixture(t)

	body := `{"field": "category", "new_value": {"id": "cat-dining", "name": "Dining"}, "actor": "user-1"}`
	status, out := f.do(t, http.MethodPost, base+"/transactions/t1/suggest", body)
	require.Equal(t, http.StatusOK, status, string(out))
	var resp suggestResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.True(t, resp.Suggested)
	require.NotNil(t, resp.Rule)
	assert.Equal(t, "Auto category: lunch -> Dining", resp.Rule.Name)
	assert.True(t, resp.Rule.AutoGenerated)

	status, _ = f.do(t, http.MethodPost, base+"/transactions/t1/suggest", `{"field": "notes"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = f.do(t, http.MethodPost, base+"/transactions/t1/suggest", `{"field": "category"}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.False(t, resp.Suggested)
}

func TestSuggestRule_RejectsForeignTargets(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"other workspace", `{"field": "category", "new_value": {"id": "cat-foreign"}}`},
		{"unknown entity", `{"field": "category", "new_value": {"id": "no-such-cat", "name": "Ghost"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			status, out := f.do(t, http.MethodPost, base+"/transactions/t1/suggest", tt.body)
			require.Equal(t, http.StatusOK, status, string(out))
			var resp suggestResponse
			require.NoError(t, json.Unmarshal(out, &resp))
			assert.False(t, resp.Suggested)
			assert.Nil(t, resp.Rule)

			rules, err := f.repo.ListRules(context.Background(), "ws-1")
			require.NoError(t, err)
			assert.Empty(t, rules)
		})
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	status, out := f.do(t, http.MethodGet, base+"/settings", "")
	require.Equal(t, http.StatusOK, status)
	var s models.Settings
	require.NoError(t, json.Unmarshal(out, &s))
	assert.True(t, s.AutoLearningEnabled)

	status, out = f.do(t, http.MethodPut, base+"/settings/excluded-beneficiaries/ben-bistro", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(out, &s))
	assert.Equal(t, []string{"ben-bistro"}, s.DisabledBeneficiaries)

	status, out = f.do(t, http.MethodDelete, base+"/settings/excluded-beneficiaries/ben-bistro", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(out, &s))
	assert.Empty(t, s.DisabledBeneficiaries)

	status, out = f.do(t, http.MethodPut, base+"/settings", `{"auto_learning_enabled": false}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(out, &s))
	assert.False(t, s.AutoLearningEnabled)
	assert.Equal(t, "ws-1", s.WorkspaceID)

	// learning is now off
	status, out = f.do(t, http.MethodPost, base+"/transactions/t1/suggest",
		`{"field": "category", "new_value": {"id": "cat-dining"}}`)
	require.Equal(t, http.StatusOK, status)
	var resp suggestResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.False(t, resp.Suggested)
}

func TestImportTransactions(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, diningRule)

	var csv bytes.Buffer
	csv.WriteString("id,date,description,amount,transaction_type,category,beneficiary,account,tags,notes,cleared\n")
	csv.WriteString("t9,2024-03-05,Dinner Bistro,-40,expense,,,,,,\n")
	csv.WriteString("t10,bad-date,Broken,-1,expense,,,,,,\n")

	status, out := f.do(t, http.MethodPost, base+"/transactions/import", csv.String())
	require.Equal(t, http.StatusOK, status, string(out))
	var report common.ImportReport
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, 1, report.Imported)
	assert.Len(t, report.Skipped, 1)
	require.Len(t, report.Results, 1)

	tx, err := f.repo.GetTransaction(context.Background(), "ws-1", "t9")
	require.NoError(t, err)
	require.NotNil(t, tx.Category)
	assert.Equal(t, "cat-dining", tx.Category.ID)

	status, _ = f.do(t, http.MethodPost, base+"/transactions/import?apply_rules=maybe", csv.String())
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, base+"/transactions/import", "id,amount\n\"unterminated,1\n")
	assert.Equal(t, http.StatusBadRequest, status)
}
