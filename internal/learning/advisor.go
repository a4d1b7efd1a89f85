// Package learning synthesizes automation rules from manual corrections.
//
// When a user sets the category or beneficiary of a transaction by hand,
// the advisor extracts keywords from the description and proposes a rule
// that would have made the same change. Suggestions are best effort: every
// failure results in no suggestion.
package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"
	"fjacquet/txrules/internal/textutils"

	"github.com/google/uuid"
)

// Gate decides whether learning is allowed. It is satisfied by
// *settings.Gate.
type Gate interface {
	Allows(ctx context.Context, workspaceID string, field models.LearnField, beneficiaryID string) (bool, error)
}

// Config holds the tunables of the advisor.
type Config struct {
	CategoryPriority    int
	BeneficiaryPriority int
	MaxKeywords         int
	MinKeywordLength    int
}

// DefaultConfig mirrors the configuration defaults.
var DefaultConfig = Config{
	CategoryPriority:    500,
	BeneficiaryPriority: 300,
	MaxKeywords:         3,
	MinKeywordLength:    4,
}

// Advisor creates rules from manual corrections.
type Advisor struct {
	gate       Gate
	rules      store.RuleStore
	entities   store.EntityStore
	logger     logging.Logger
	strategies map[models.LearnField]SuggestionStrategy
	keywords   textutils.KeywordOptions
	now        func() time.Time
	newID      func() string
}

// NewAdvisor creates an Advisor with the category and beneficiary
// strategies configured from cfg.
func NewAdvisor(gate Gate, rules store.RuleStore, entities store.EntityStore, logger logging.Logger, cfg Config) *Advisor {
	a := &Advisor{
		gate:       gate,
		rules:      rules,
		entities:   entities,
		logger:     logger,
		strategies: make(map[models.LearnField]SuggestionStrategy),
		keywords:   textutils.KeywordOptions{MinLength: cfg.MinKeywordLength, Max: cfg.MaxKeywords},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	a.Register(CategoryStrategy{Priority: cfg.CategoryPriority})
	a.Register(BeneficiaryStrategy{Priority: cfg.BeneficiaryPriority})
	return a
}

// Register adds or replaces the strategy for its field.
func (a *Advisor) Register(s SuggestionStrategy) {
	a.strategies[s.Field()] = s
}

// Suggest proposes a rule after the user changed field of tx from oldValue
// to newValue. newValue must name an entity of the transaction's workspace;
// its stored name is used, not the one passed in. It returns the created rule, or an existing rule with the
// same generated name, and true; or nil and false when there is nothing to
// suggest.
func (a *Advisor) Suggest(ctx context.Context, tx *models.Transaction, field models.LearnField, oldValue, newValue *models.EntityRef, actor string) (*models.Rule, bool) {
	if tx == nil {
		return nil, false
	}
	log := a.logger.WithFields(
		logging.F(logging.FieldWorkspaceID, tx.WorkspaceID),
		logging.F(logging.FieldTransactionID, tx.ID),
		logging.F(logging.FieldField, string(field)))

	strategy, ok := a.strategies[field]
	if !ok {
		log.Debug("No suggestion: field is not learnable")
		return nil, false
	}
	if newValue == nil || newValue.ID == "" {
		log.Debug("No suggestion: no new value")
		return nil, false
	}
	if oldValue != nil && oldValue.ID == newValue.ID {
		log.Debug("No suggestion: value unchanged")
		return nil, false
	}
	if strings.TrimSpace(tx.Description) == "" {
		log.Debug("No suggestion: empty description")
		return nil, false
	}

	target, ok := a.resolveTarget(ctx, log, tx.WorkspaceID, field, newValue.ID)
	if !ok {
		return nil, false
	}

	allowed, err := a.gate.Allows(ctx, tx.WorkspaceID, field, excludedCandidate(tx, field, &target))
	if err != nil {
		log.WithError(err).Warn("No suggestion: settings unavailable")
		return nil, false
	}
	if !allowed {
		log.Debug("No suggestion: learning disabled by settings")
		return nil, false
	}

	keywords := textutils.ExtractKeywords(tx.Description, a.keywords)
	if len(keywords) == 0 {
		log.Debug("No suggestion: no usable keyword", logging.F("description", tx.Description))
		return nil, false
	}

	rule := strategy.Template(keywords[0], target)
	rule.WorkspaceID = tx.WorkspaceID
	rule.OwnerID = actor
	rule.Description = fmt.Sprintf("Learned from %q (keywords: %s)", tx.Description, strings.Join(keywords, ", "))
	log = log.WithFields(
		logging.F(logging.FieldRuleName, rule.Name),
		logging.F(logging.FieldKeyword, keywords[0]))

	existing, err := a.rules.FindRuleByName(ctx, rule.WorkspaceID, rule.Stage, rule.RuleType, rule.Name)
	switch {
	case err == nil:
		log.Debug("Learned rule already exists", logging.F(logging.FieldRuleID, existing.ID))
		return existing, true
	case !errors.Is(err, store.ErrNotFound):
		log.WithError(err).Warn("No suggestion: rule lookup failed")
		return nil, false
	}

	now := a.now()
	rule.ID = a.newID()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	for i := range rule.Conditions {
		rule.Conditions[i].ID = a.newID()
	}
	for i := range rule.Actions {
		rule.Actions[i].ID = a.newID()
	}

	if err := a.rules.CreateRule(ctx, &rule); err != nil {
		log.WithError(err).Warn("No suggestion: rule could not be created")
		return nil, false
	}

	log.Info("Rule learned from manual change",
		logging.F(logging.FieldRuleID, rule.ID),
		logging.F(logging.FieldStage, string(rule.Stage)),
		logging.F("strategy", strategy.Name()))
	return &rule, true
}

// resolveTarget loads the entity a learned rule would reference and checks
// that it belongs to workspaceID.
func (a *Advisor) resolveTarget(ctx context.Context, log logging.Logger, workspaceID string, field models.LearnField, id string) (models.EntityRef, bool) {
	kind := field.EntityKind()
	entity, err := a.entities.LookupEntity(ctx, kind, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug("No suggestion: unknown target", logging.F("target_id", id))
		return models.EntityRef{}, false
	case err != nil:
		log.WithError(err).Warn("No suggestion: target lookup failed")
		return models.EntityRef{}, false
	}
	if entity.WorkspaceID != workspaceID {
		log.Warn("No suggestion: target belongs to another workspace",
			logging.F("target_id", id),
			logging.F("target_kind", string(kind)))
		return models.EntityRef{}, false
	}
	return entity.Ref(), true
}

// excludedCandidate returns the beneficiary checked against the exclusion
// list: the new beneficiary when learning beneficiaries, otherwise the one
// already on the transaction.
func excludedCandidate(tx *models.Transaction, field models.LearnField, newValue *models.EntityRef) string {
	if field == models.LearnBeneficiary {
		return newValue.ID
	}
	return models.RefID(tx.Beneficiary)
}
