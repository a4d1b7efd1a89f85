package api

import (
	"net/http"
	"strconv"

	"fjacquet/txrules/internal/applog"
	"fjacquet/txrules/internal/authoring"
	"fjacquet/txrules/internal/common"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/engine"
	"fjacquet/txrules/internal/learning"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/settings"
	"fjacquet/txrules/internal/store"

	"github.com/go-chi/chi/v5"
)

type handlers struct {
	repo      store.Repository
	engine    *engine.Engine
	authoring *authoring.Service
	recorder  *applog.Recorder
	gate      *settings.Gate
	advisor   *learning.Advisor
	importer  *common.Importer
	logger    logging.Logger
}

func newHandlers(c *container.Container) *handlers {
	return &handlers{
		repo:      c.GetRepository(),
		engine:    c.GetEngine(),
		authoring: c.GetAuthoring(),
		recorder:  c.GetRecorder(),
		gate:      c.GetSettingsGate(),
		advisor:   c.GetAdvisor(),
		importer:  c.GetImporter(),
		logger:    c.GetLogger(),
	}
}

func workspaceID(r *http.Request) string {
	return chi.URLParam(r, "workspace_id")
}

type applyRequest struct {
	RuleIDs []string `json:"rule_ids"`
}

type applyResponse struct {
	Transaction  *models.Transaction        `json:"transaction"`
	AppliedRules []models.AppliedRuleResult `json:"applied_rules"`
}

// ApplyRules runs the staged pipeline on one stored transaction.
func (h *handlers) ApplyRules(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	var req applyRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	tx, err := h.repo.GetTransaction(r.Context(), ws, chi.URLParam(r, "transaction_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	applied, err := h.engine.ApplyRules(r.Context(), tx, req.RuleIDs...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if applied == nil {
		applied = []models.AppliedRuleResult{}
	}
	h.writeJSON(w, http.StatusOK, applyResponse{Transaction: tx, AppliedRules: applied})
}

type batchRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
	RuleIDs        []string `json:"rule_ids"`
}

// ApplyBatch runs the pipeline over many transactions. An empty id list
// selects every transaction of the workspace.
func (h *handlers) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	var req batchRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	txs, err := h.repo.ListTransactions(r.Context(), ws, req.TransactionIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	results, err := h.engine.ApplyRulesBatch(r.Context(), txs, req.RuleIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []models.TransactionResult{}
	}
	h.writeJSON(w, http.StatusOK, results)
}

type testRequest struct {
	RuleIDs        []string `json:"rule_ids"`
	TransactionIDs []string `json:"transaction_ids"`
	Apply          bool     `json:"apply"`
}

// TestRules simulates the active rules of the workspace, or the requested
// ones, against stored transactions.
func (h *handlers) TestRules(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	h.runTest(w, r, req)
}

// TestRule simulates a single rule.
func (h *handlers) TestRule(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	ruleID := chi.URLParam(r, "rule_id")
	if _, err := h.repo.GetRule(r.Context(), workspaceID(r), ruleID); err != nil {
		h.writeError(w, err)
		return
	}
	req.RuleIDs = []string{ruleID}
	h.runTest(w, r, req)
}

func (h *handlers) runTest(w http.ResponseWriter, r *http.Request, req testRequest) {
	results, err := h.engine.TestRules(r.Context(), workspaceID(r), req.RuleIDs, req.TransactionIDs, req.Apply)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

type suggestRequest struct {
	Field    models.LearnField `json:"field"`
	OldValue *models.EntityRef `json:"old_value"`
	NewValue *models.EntityRef `json:"new_value"`
	Actor    string            `json:"actor"`
}

type suggestResponse struct {
	Suggested bool         `json:"suggested"`
	Rule      *models.Rule `json:"rule,omitempty"`
}

// SuggestRule reports a manual field change and returns the learned rule,
// if any.
func (h *handlers) SuggestRule(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Field.IsValid() {
		h.writeMessage(w, http.StatusBadRequest, "field must be category or beneficiary")
		return
	}
	tx, err := h.repo.GetTransaction(r.Context(), workspaceID(r), chi.URLParam(r, "transaction_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	rule, ok := h.advisor.Suggest(r.Context(), tx, req.Field, req.OldValue, req.NewValue, req.Actor)
	h.writeJSON(w, http.StatusOK, suggestResponse{Suggested: ok, Rule: rule})
}

// ListRules returns every rule of the workspace.
func (h *handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.repo.ListRules(r.Context(), workspaceID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	h.writeJSON(w, http.StatusOK, rules)
}

// GetRule returns one rule.
func (h *handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), workspaceID(r), chi.URLParam(r, "rule_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule.
func (h *handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	rule.WorkspaceID = workspaceID(r)
	res, err := h.authoring.Create(r.Context(), &rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// UpdateRule replaces the definition of an existing rule.
func (h *handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if !h.decode(w, r, &rule) {
		return
	}
	rule.WorkspaceID = workspaceID(r)
	rule.ID = chi.URLParam(r, "rule_id")
	res, err := h.authoring.Update(r.Context(), &rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// DeleteRule removes a rule together with its application log.
func (h *handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.authoring.Delete(r.Context(), workspaceID(r), chi.URLParam(r, "rule_id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleRule flips the active flag.
func (h *handlers) ToggleRule(w http.ResponseWriter, r *http.Request) {
	res, err := h.authoring.Toggle(r.Context(), workspaceID(r), chi.URLParam(r, "rule_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// RuleLogs returns the latest applications of one rule.
func (h *handlers) RuleLogs(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	ruleID := chi.URLParam(r, "rule_id")
	if _, err := h.repo.GetRule(r.Context(), ws, ruleID); err != nil {
		h.writeError(w, err)
		return
	}
	logs, err := h.recorder.ForRule(r.Context(), ws, ruleID)
	h.writeLogs(w, logs, err)
}

// TransactionLogs returns every application recorded on one transaction.
func (h *handlers) TransactionLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.recorder.ForTransaction(r.Context(), workspaceID(r), chi.URLParam(r, "transaction_id"))
	h.writeLogs(w, logs, err)
}

// WorkspaceLogs returns the latest applications in the workspace. The
// limit query parameter defaults to applog.RecentLimit.
func (h *handlers) WorkspaceLogs(w http.ResponseWriter, r *http.Request) {
	limit := applog.RecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := h.recorder.ForWorkspace(r.Context(), workspaceID(r), limit)
	h.writeLogs(w, logs, err)
}

func (h *handlers) writeLogs(w http.ResponseWriter, logs []models.ApplicationLog, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.ApplicationLog{}
	}
	h.writeJSON(w, http.StatusOK, logs)
}

// GetSettings returns the automation settings, defaults included.
func (h *handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.gate.Get(r.Context(), workspaceID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// UpdateSettings replaces the automation settings.
func (h *handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s models.Settings
	if !h.decode(w, r, &s) {
		return
	}
	s.WorkspaceID = workspaceID(r)
	saved, err := h.gate.Save(r.Context(), s)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, saved)
}

// ExcludeBeneficiary stops learning from transactions of a beneficiary.
func (h *handlers) ExcludeBeneficiary(w http.ResponseWriter, r *http.Request) {
	s, err := h.gate.ExcludeBeneficiary(r.Context(), workspaceID(r), chi.URLParam(r, "beneficiary_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// IncludeBeneficiary lifts a beneficiary exclusion.
func (h *handlers) IncludeBeneficiary(w http.ResponseWriter, r *http.Request) {
	s, err := h.gate.IncludeBeneficiary(r.Context(), workspaceID(r), chi.URLParam(r, "beneficiary_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// ImportTransactions stores the CSV request body as transactions of the
// workspace. Rules are applied unless apply_rules=false.
func (h *handlers) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	applyRules := true
	if raw := r.URL.Query().Get("apply_rules"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeMessage(w, http.StatusBadRequest, "invalid apply_rules")
			return
		}
		applyRules = v
	}
	report, err := h.importer.Import(r.Context(), workspaceID(r), r.Body, applyRules)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}
