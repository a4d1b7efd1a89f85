// Package store defines the persistence contracts of the rule engine and
// the file formats rules are exchanged in.
package store

import (
	"context"
	"errors"

	"fjacquet/txrules/internal/models"
)

// ErrNotFound is returned when a requested record does not exist in the
// given workspace.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would take over a record owned by
// another workspace.
var ErrConflict = errors.New("owned by another workspace")

// RuleStore persists rule definitions.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.Rule) error
	UpdateRule(ctx context.Context, rule *models.Rule) error
	DeleteRule(ctx context.Context, workspaceID, ruleID string) error
	GetRule(ctx context.Context, workspaceID, ruleID string) (*models.Rule, error)
	ListRules(ctx context.Context, workspaceID string) ([]models.Rule, error)

	// ListActiveRules returns the active rules of one stage with their
	// conditions, actions and referenced entities fully loaded. When
	// ruleIDs is non-empty only those rules are returned.
	ListActiveRules(ctx context.Context, workspaceID string, stage models.Stage, ruleIDs []string) ([]models.Rule, error)

	// FindRuleByName looks up a rule by its identity key. It returns
	// ErrNotFound when no such rule exists.
	FindRuleByName(ctx context.Context, workspaceID string, stage models.Stage, ruleType models.RuleType, name string) (*models.Rule, error)
}

// LogFilter narrows ListApplicationLogs. Zero fields are ignored.
type LogFilter struct {
	WorkspaceID   string
	RuleID        string
	TransactionID string
	Limit         int
}

// ApplicationStore persists the effects of rule applications.
type ApplicationStore interface {
	// CommitApplication writes the mutated transaction, appends the log
	// entry and bumps the rule statistics as one unit. Either all of it
	// is persisted or none of it.
	CommitApplication(ctx context.Context, commit models.RuleCommit) error
	ListApplicationLogs(ctx context.Context, filter LogFilter) ([]models.ApplicationLog, error)
}

// SettingsStore persists per-workspace automation settings.
type SettingsStore interface {
	// GetSettings returns ErrNotFound when the workspace has no row.
	GetSettings(ctx context.Context, workspaceID string) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
}

// TransactionStore persists transactions.
type TransactionStore interface {
	GetTransaction(ctx context.Context, workspaceID, id string) (*models.Transaction, error)
	// ListTransactions returns all transactions of the workspace when ids
	// is empty.
	ListTransactions(ctx context.Context, workspaceID string, ids []string) ([]*models.Transaction, error)
	// SaveTransaction returns ErrConflict when the id is already used by a
	// transaction of another workspace.
	SaveTransaction(ctx context.Context, tx *models.Transaction) error
}

// EntityStore persists categories, beneficiaries, accounts and tags.
type EntityStore interface {
	// LookupEntity resolves an entity regardless of workspace so callers
	// can detect cross-workspace references.
	LookupEntity(ctx context.Context, kind models.EntityKind, id string) (*models.Entity, error)
	ListEntities(ctx context.Context, workspaceID string, kind models.EntityKind) ([]models.Entity, error)
	SaveEntity(ctx context.Context, entity *models.Entity) error
}

// Repository is everything the engine and its services need from storage.
type Repository interface {
	RuleStore
	ApplicationStore
	SettingsStore
	TransactionStore
	EntityStore
	Close() error
}
