package authoring

import (
	"context"
	"errors"
	"fmt"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"
)

// ImportSummary counts the outcome of a rule file import.
type ImportSummary struct {
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Failed   int       `json:"failed"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Import creates or updates one rule per document. A document replaces the
// rule with the same name, stage and type; otherwise a new rule is created
// and any id in the document is ignored. Documents are processed
// independently and their errors are joined.
func (s *Service) Import(ctx context.Context, workspaceID, ownerID string, docs []store.RuleDocument) (ImportSummary, error) {
	var summary ImportSummary
	var errs []error

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rule := doc.Rule(workspaceID)
		rule.OwnerID = ownerID
		applyDefaults(&rule)

		existing, err := s.rules.FindRuleByName(ctx, workspaceID, rule.Stage, rule.RuleType, rule.Name)
		var res Result
		switch {
		case err == nil:
			rule.ID = existing.ID
			res, err = s.Update(ctx, &rule)
			if err == nil {
				summary.Updated++
			}
		case errors.Is(err, store.ErrNotFound):
			rule.ID = ""
			res, err = s.Create(ctx, &rule)
			if err == nil {
				summary.Created++
			}
		}
		if err != nil {
			summary.Failed++
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i+1, doc.Name, err))
			continue
		}
		summary.Warnings = append(summary.Warnings, res.Warnings...)
	}

	s.logger.Info("Rule file imported",
		logging.F(logging.FieldWorkspaceID, workspaceID),
		logging.F("created", summary.Created),
		logging.F("updated", summary.Updated),
		logging.F("failed", summary.Failed))
	return summary, errors.Join(errs...)
}

// Export returns every rule of a workspace as rule file documents, in
// execution order within each stage.
func (s *Service) Export(ctx context.Context, workspaceID string) ([]store.RuleDocument, error) {
	rules, err := s.rules.ListRules(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	docs := make([]store.RuleDocument, 0, len(rules))
	for _, stage := range models.Stages {
		for _, r := range rules {
			if r.Stage == stage {
				docs = append(docs, store.DocumentFromRule(r))
			}
		}
	}
	return docs, nil
}
