package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fjacquet/txrules/internal/models"
)

// MockRepository is an in-memory Repository for testing.
type MockRepository struct {
	mu           sync.Mutex
	rules        map[string]*models.Rule
	transactions map[string]*models.Transaction
	entities     map[string]models.Entity
	settings     map[string]models.Settings
	logs         []models.ApplicationLog

	// Error injection for testing failure paths
	ListActiveRulesError error
	GetSettingsError     error
	SaveSettingsError    error
	CreateRuleError      error
	// CommitHook, when set, is called before a commit is written; a
	// non-nil error aborts the commit without side effects.
	CommitHook func(models.RuleCommit) error

	// Call counters
	GetSettingsCalls int
	CommitCalls      int
}

// NewMockRepository creates an empty MockRepository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		rules:        make(map[string]*models.Rule),
		transactions: make(map[string]*models.Transaction),
		entities:     make(map[string]models.Entity),
		settings:     make(map[string]models.Settings),
	}
}

// CreateRule stores a copy of rule.
func (m *MockRepository) CreateRule(_ context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateRuleError != nil {
		return m.CreateRuleError
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// UpdateRule replaces a stored rule.
func (m *MockRepository) UpdateRule(_ context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[rule.ID]
	if !ok || existing.WorkspaceID != rule.WorkspaceID {
		return ErrNotFound
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// DeleteRule removes a rule and its logs.
func (m *MockRepository) DeleteRule(_ context.Context, workspaceID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[ruleID]
	if !ok || existing.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	delete(m.rules, ruleID)
	kept := m.logs[:0]
	for _, l := range m.logs {
		if l.RuleID != ruleID {
			kept = append(kept, l)
		}
	}
	m.logs = kept
	return nil
}

// GetRule returns a copy of a stored rule.
func (m *MockRepository) GetRule(_ context.Context, workspaceID, ruleID string) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok || r.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// ListRules returns every rule of the workspace in evaluation order.
func (m *MockRepository) ListRules(_ context.Context, workspaceID string) ([]models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Rule
	for _, r := range m.rules {
		if r.WorkspaceID == workspaceID {
			out = append(out, *r.Clone())
		}
	}
	models.SortRules(out)
	return out, nil
}

// ListActiveRules returns the active rules of a stage in evaluation order.
func (m *MockRepository) ListActiveRules(_ context.Context, workspaceID string, stage models.Stage, ruleIDs []string) ([]models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListActiveRulesError != nil {
		return nil, m.ListActiveRulesError
	}
	var wanted map[string]bool
	if len(ruleIDs) > 0 {
		wanted = make(map[string]bool, len(ruleIDs))
		for _, id := range ruleIDs {
			wanted[id] = true
		}
	}
	var out []models.Rule
	for _, r := range m.rules {
		if r.WorkspaceID != workspaceID || r.Stage != stage || !r.Active {
			continue
		}
		if wanted != nil && !wanted[r.ID] {
			continue
		}
		out = append(out, *r.Clone())
	}
	models.SortRules(out)
	return out, nil
}

// FindRuleByName looks a rule up by its identity key.
func (m *MockRepository) FindRuleByName(_ context.Context, workspaceID string, stage models.Stage, ruleType models.RuleType, name string) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.WorkspaceID == workspaceID && r.Stage == stage && r.RuleType == ruleType && r.Name == name {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// CommitApplication applies a commit atomically.
func (m *MockRepository) CommitApplication(_ context.Context, commit models.RuleCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls++
	if m.CommitHook != nil {
		if err := m.CommitHook(commit); err != nil {
			return err
		}
	}
	rule, ok := m.rules[commit.RuleID]
	if !ok {
		return ErrNotFound
	}
	if existing, ok := m.transactions[commit.Transaction.ID]; ok && existing.WorkspaceID != commit.Transaction.WorkspaceID {
		return fmt.Errorf("transaction %s: %w", commit.Transaction.ID, ErrConflict)
	}
	m.transactions[commit.Transaction.ID] = commit.Transaction.Clone()
	m.logs = append(m.logs, cloneLog(commit.Log))
	rule.TimesApplied++
	at := commit.AppliedAt
	rule.LastAppliedAt = &at
	return nil
}

// ListApplicationLogs returns matching logs, newest first.
func (m *MockRepository) ListApplicationLogs(_ context.Context, filter LogFilter) ([]models.ApplicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ApplicationLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		l := m.logs[i]
		if filter.WorkspaceID != "" && l.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.RuleID != "" && l.RuleID != filter.RuleID {
			continue
		}
		if filter.TransactionID != "" && l.TransactionID != filter.TransactionID {
			continue
		}
		out = append(out, cloneLog(l))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func cloneLog(l models.ApplicationLog) models.ApplicationLog {
	l.ActionsApplied = append([]models.AppliedAction(nil), l.ActionsApplied...)
	return l
}

// GetSettings returns the stored settings or ErrNotFound.
func (m *MockRepository) GetSettings(_ context.Context, workspaceID string) (*models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetSettingsCalls++
	if m.GetSettingsError != nil {
		return nil, m.GetSettingsError
	}
	s, ok := m.settings[workspaceID]
	if !ok {
		return nil, ErrNotFound
	}
	s.DisabledBeneficiaries = append([]string(nil), s.DisabledBeneficiaries...)
	return &s, nil
}

// SaveSettings upserts settings.
func (m *MockRepository) SaveSettings(_ context.Context, settings *models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveSettingsError != nil {
		return m.SaveSettingsError
	}
	s := *settings
	s.DisabledBeneficiaries = append([]string(nil), settings.DisabledBeneficiaries...)
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	m.settings[s.WorkspaceID] = s
	return nil
}

// GetTransaction returns a copy of a stored transaction.
func (m *MockRepository) GetTransaction(_ context.Context, workspaceID, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok || tx.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

// ListTransactions returns the requested transactions ordered by date.
// Unknown ids are skipped.
func (m *MockRepository) ListTransactions(_ context.Context, workspaceID string, ids []string) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	if len(ids) == 0 {
		for _, tx := range m.transactions {
			if tx.WorkspaceID == workspaceID {
				out = append(out, tx.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Date.Equal(out[j].Date) {
				return out[i].Date.Before(out[j].Date)
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	}
	for _, id := range ids {
		if tx, ok := m.transactions[id]; ok && tx.WorkspaceID == workspaceID {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

// SaveTransaction upserts a transaction.
func (m *MockRepository) SaveTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.transactions[tx.ID]; ok && existing.WorkspaceID != tx.WorkspaceID {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrConflict)
	}
	m.transactions[tx.ID] = tx.Clone()
	return nil
}

// LookupEntity resolves an entity in any workspace.
func (m *MockRepository) LookupEntity(_ context.Context, kind models.EntityKind, id string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok || e.Kind != kind {
		return nil, ErrNotFound
	}
	return &e, nil
}

// ListEntities returns the entities of one kind ordered by name.
func (m *MockRepository) ListEntities(_ context.Context, workspaceID string, kind models.EntityKind) ([]models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Entity
	for _, e := range m.entities {
		if e.WorkspaceID == workspaceID && e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveEntity upserts an entity.
func (m *MockRepository) SaveEntity(_ context.Context, entity *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity.ID] = *entity
	return nil
}

// Close is a no-op.
func (m *MockRepository) Close() error {
	return nil
}

// Logs returns a snapshot of every stored log in insertion order.
func (m *MockRepository) Logs() []models.ApplicationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ApplicationLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, cloneLog(l))
	}
	return out
}

var _ Repository = (*MockRepository)(nil)
