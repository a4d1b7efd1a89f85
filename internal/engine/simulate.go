package engine

import (
	"context"
	"fmt"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
)

// TestRules runs the staged pipeline on a scratch copy of each transaction
// and reports the rules that match and whether each of their actions would
// change the transaction. Changes made on the scratch copy are visible to
// later rules and stages but are never persisted.
//
// When apply is true the real pipeline is then run on the transaction and
// the committed actions are reported in AppliedActions.
//
// Empty ruleIDs selects every active rule; empty transactionIDs selects
// every transaction of the workspace. Transactions matched by no rule are
// omitted.
func (e *Engine) TestRules(ctx context.Context, workspaceID string, ruleIDs, transactionIDs []string, apply bool) ([]models.TestResult, error) {
	staged := make(map[models.Stage][]models.Rule, len(models.Stages))
	for _, stage := range models.Stages {
		rules, err := e.rules.ListActiveRules(ctx, workspaceID, stage, ruleIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s rules for workspace %s: %w", stage, workspaceID, err)
		}
		staged[stage] = rules
	}

	txs, err := e.txs.ListTransactions(ctx, workspaceID, transactionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for workspace %s: %w", workspaceID, err)
	}

	results := []models.TestResult{}
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := e.simulate(staged, tx)
		if len(res.MatchedRules) == 0 {
			continue
		}

		if apply {
			applied, err := e.ApplyRules(ctx, tx, ruleIDs...)
			if err != nil {
				return results, err
			}
			for _, ar := range applied {
				for _, a := range ar.ActionsApplied {
					res.AppliedActions = append(res.AppliedActions, models.ActionOutcome{
						RuleID:      ar.RuleID,
						ActionType:  a.ActionType,
						ActionValue: a.ActionValue,
						WouldApply:  true,
					})
				}
			}
		}
		results = append(results, res)
	}

	e.logger.Info("Rule test completed",
		logging.F(logging.FieldWorkspaceID, workspaceID),
		logging.F(logging.FieldCount, len(txs)),
		logging.F("matched", len(results)),
		logging.F("apply", apply))
	return results, nil
}

// simulate walks the stages over a scratch copy of tx.
func (e *Engine) simulate(staged map[models.Stage][]models.Rule, tx *models.Transaction) models.TestResult {
	res := models.TestResult{
		TransactionID:     tx.ID,
		Description:       tx.Description,
		Amount:            tx.Amount.StringFixed(2),
		MatchedRules:      []models.MatchedRule{},
		WouldApplyActions: []models.ActionOutcome{},
		AppliedActions:    []models.ActionOutcome{},
	}

	scratch := tx.Clone()
	for _, stage := range models.Stages {
		rules := staged[stage]
		for i := range rules {
			rule := &rules[i]
			if !e.evaluator.Matches(rule, scratch) {
				continue
			}
			res.MatchedRules = append(res.MatchedRules, models.MatchedRule{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				RuleType: rule.RuleType,
				Stage:    rule.Stage,
			})

			// Each action is judged against the state left by the
			// previous actions of the same rule, as in a real run. A
			// failing action discards the whole rule, so none of its
			// actions qualify.
			working := scratch.Clone()
			outcomes := make([]models.ActionOutcome, 0, len(rule.Actions))
			failed := false
			for _, action := range rule.Actions {
				outcome := models.ActionOutcome{
					RuleID:      rule.ID,
					ActionType:  action.Type,
					ActionValue: action.DisplayValue(),
				}
				if !failed {
					would, err := e.applier.WouldApply(action, working)
					if err == nil {
						_, err = e.applier.Apply(action, working)
					}
					if err != nil {
						failed = true
					} else {
						outcome.WouldApply = would
					}
				}
				outcomes = append(outcomes, outcome)
			}
			if failed {
				for j := range outcomes {
					outcomes[j].WouldApply = false
				}
			}
			res.WouldApplyActions = append(res.WouldApplyActions, outcomes...)
			if !failed {
				scratch = working
			}
		}
	}
	return res
}
