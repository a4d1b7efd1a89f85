// Package authoring creates and maintains rules on behalf of users. Every
// write is validated, and every entity a rule references must belong to
// the rule's workspace.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/ruleerror"
	"fjacquet/txrules/internal/store"
	"fjacquet/txrules/internal/validation"

	"github.com/google/uuid"
)

// WarningNoConditions flags an active rule without conditions. Such a rule
// matches every transaction.
const WarningNoConditions = "no_conditions"

// Warning is a non-blocking signal about a saved rule.
type Warning struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Result is the outcome of a successful write.
type Result struct {
	Rule     *models.Rule `json:"rule"`
	Warnings []Warning    `json:"warnings,omitempty"`
}

// Service validates and persists rules.
type Service struct {
	rules    store.RuleStore
	entities store.EntityStore
	logger   logging.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service.
func NewService(rules store.RuleStore, entities store.EntityStore, logger logging.Logger) *Service {
	return &Service{
		rules:    rules,
		entities: entities,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates rule, resolves its references and stores it. Missing
// stage and priority take their defaults; ids and timestamps are assigned.
func (s *Service) Create(ctx context.Context, rule *models.Rule) (Result, error) {
	if rule == nil {
		return Result{}, validation.ValidateRule(nil)
	}
	r := rule.Clone()
	applyDefaults(r)
	r.ID = s.newID()
	r.TimesApplied = 0
	r.LastAppliedAt = nil

	if err := s.check(ctx, r, ""); err != nil {
		return Result{}, err
	}

	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.assignIDs(r)

	if err := s.rules.CreateRule(ctx, r); err != nil {
		return Result{}, fmt.Errorf("failed to create rule '%s': %w", r.Name, err)
	}
	s.logger.Info("Rule created", ruleFields(r)...)
	return s.result(r), nil
}

// Update replaces the definition of an existing rule. Application
// statistics and the creation time are kept.
func (s *Service) Update(ctx context.Context, rule *models.Rule) (Result, error) {
	if rule == nil {
		return Result{}, validation.ValidateRule(nil)
	}
	existing, err := s.rules.GetRule(ctx, rule.WorkspaceID, rule.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load rule %s: %w", rule.ID, err)
	}

	r := rule.Clone()
	applyDefaults(r)
	r.CreatedAt = existing.CreatedAt
	r.TimesApplied = existing.TimesApplied
	r.LastAppliedAt = existing.LastAppliedAt
	if r.OwnerID == "" {
		r.OwnerID = existing.OwnerID
	}

	if err := s.check(ctx, r, r.ID); err != nil {
		return Result{}, err
	}

	r.UpdatedAt = s.now()
	s.assignIDs(r)

	if err := s.rules.UpdateRule(ctx, r); err != nil {
		return Result{}, fmt.Errorf("failed to update rule '%s': %w", r.Name, err)
	}
	s.logger.Info("Rule updated", ruleFields(r)...)
	return s.result(r), nil
}

// Delete removes a rule and its application log.
func (s *Service) Delete(ctx context.Context, workspaceID, ruleID string) error {
	if err := s.rules.DeleteRule(ctx, workspaceID, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	s.logger.Info("Rule deleted",
		logging.F(logging.FieldWorkspaceID, workspaceID),
		logging.F(logging.FieldRuleID, ruleID))
	return nil
}

// SetActive activates or deactivates a rule.
func (s *Service) SetActive(ctx context.Context, workspaceID, ruleID string, active bool) (Result, error) {
	r, err := s.rules.GetRule(ctx, workspaceID, ruleID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	if r.Active == active {
		return s.result(r), nil
	}
	r.Active = active
	r.UpdatedAt = s.now()
	if err := s.rules.UpdateRule(ctx, r); err != nil {
		return Result{}, fmt.Errorf("failed to update rule '%s': %w", r.Name, err)
	}
	s.logger.Info("Rule toggled", append(ruleFields(r), logging.F("active", active))...)
	return s.result(r), nil
}

// Toggle flips the active flag of a rule.
func (s *Service) Toggle(ctx context.Context, workspaceID, ruleID string) (Result, error) {
	r, err := s.rules.GetRule(ctx, workspaceID, ruleID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	return s.SetActive(ctx, workspaceID, ruleID, !r.Active)
}

// check validates r, resolves its references and rejects a name already
// used by another rule with the same stage and type. selfID is the id of
// the rule being updated, or "" on create.
func (s *Service) check(ctx context.Context, r *models.Rule, selfID string) error {
	if strings.TrimSpace(r.WorkspaceID) == "" {
		return ruleerror.ValidationErrors{{RuleName: r.Name, Field: "workspace_id", Reason: "is required"}}
	}
	if err := validation.ValidateRule(r); err != nil {
		return err
	}
	if err := s.resolveReferences(ctx, r); err != nil {
		return err
	}

	other, err := s.rules.FindRuleByName(ctx, r.WorkspaceID, r.Stage, r.RuleType, r.Name)
	switch {
	case err == nil && other.ID != selfID:
		return &ruleerror.ValidationError{RuleName: r.Name, Field: "name",
			Reason: fmt.Sprintf("already used by rule %s in stage %s", other.ID, r.Stage)}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to check rule name: %w", err)
	}
	return nil
}

// resolveReferences checks that every referenced entity exists in the
// rule's workspace and fills in its current name.
func (s *Service) resolveReferences(ctx context.Context, r *models.Rule) error {
	for i, cond := range r.Conditions {
		kind, ok := cond.Type.RefKind()
		if !ok {
			continue
		}
		op, ok := cond.Operand.(models.RefSetOperand)
		if !ok {
			continue
		}
		refs := make([]models.EntityRef, 0, len(op.Refs))
		for _, ref := range op.Refs {
			resolved, err := s.resolve(ctx, r.WorkspaceID, kind, ref)
			if err != nil {
				return err
			}
			refs = append(refs, resolved)
		}
		r.Conditions[i].Operand = models.NewRefSetOperand(refs)
	}

	for i, action := range r.Actions {
		kind, ok := action.Type.RefKind()
		if !ok {
			continue
		}
		val, ok := action.Value.(models.RefValue)
		if !ok {
			continue
		}
		resolved, err := s.resolve(ctx, r.WorkspaceID, kind, val.Ref)
		if err != nil {
			return err
		}
		r.Actions[i].Value = models.RefValue{Ref: resolved}
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, workspaceID string, kind models.EntityKind, ref models.EntityRef) (models.EntityRef, error) {
	entity, err := s.entities.LookupEntity(ctx, kind, ref.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.EntityRef{}, &ruleerror.ReferenceIntegrityError{
			WorkspaceID: workspaceID, EntityKind: string(kind), EntityID: ref.ID}
	case err != nil:
		return models.EntityRef{}, fmt.Errorf("failed to look up %s %s: %w", kind, ref.ID, err)
	case entity.WorkspaceID != workspaceID:
		return models.EntityRef{}, &ruleerror.ReferenceIntegrityError{
			WorkspaceID: workspaceID, EntityKind: string(kind), EntityID: ref.ID}
	}
	return entity.Ref(), nil
}

func (s *Service) assignIDs(r *models.Rule) {
	for i := range r.Conditions {
		if r.Conditions[i].ID == "" {
			r.Conditions[i].ID = s.newID()
		}
	}
	for i := range r.Actions {
		if r.Actions[i].ID == "" {
			r.Actions[i].ID = s.newID()
		}
	}
}

// result builds the write result, logging a warning for rules that match
// everything.
func (s *Service) result(r *models.Rule) Result {
	res := Result{Rule: r}
	if r.Active && len(r.Conditions) == 0 {
		res.Warnings = append(res.Warnings, Warning{
			RuleID:   r.ID,
			RuleName: r.Name,
			Code:     WarningNoConditions,
			Message:  "rule has no conditions and matches every transaction",
		})
		s.logger.Warn("Active rule has no conditions", ruleFields(r)...)
	}
	return res
}

func applyDefaults(r *models.Rule) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Stage == "" {
		r.Stage = models.StageDefault
	}
	if r.Priority == 0 {
		r.Priority = models.DefaultPriority
	}
}

func ruleFields(r *models.Rule) []logging.Field {
	return []logging.Field{
		logging.F(logging.FieldWorkspaceID, r.WorkspaceID),
		logging.F(logging.FieldRuleID, r.ID),
		logging.F(logging.FieldRuleName, r.Name),
		logging.F(logging.FieldStage, string(r.Stage)),
	}
}
