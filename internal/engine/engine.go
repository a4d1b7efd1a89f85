// Package engine runs automation rules against transactions.
//
// A run walks the stages PRE, DEFAULT and POST in order. Within a stage
// the active rules are evaluated by ascending priority, ties broken by
// name. Every rule that matches is applied to a working copy of the
// transaction; when at least one action changed something, the copy, a
// log entry and the rule statistics are committed together and the copy
// becomes the input of the next rule. A rule that fails is logged and
// skipped without affecting the others.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fjacquet/txrules/internal/applier"
	"fjacquet/txrules/internal/applog"
	"fjacquet/txrules/internal/evaluator"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/ruleerror"
	"fjacquet/txrules/internal/store"
)

// Options tunes batch processing.
type Options struct {
	// Workers bounds the number of transactions processed in parallel.
	Workers int
	// SequentialThreshold is the batch size below which no workers are
	// started.
	SequentialThreshold int
}

// DefaultOptions mirrors the configuration defaults.
var DefaultOptions = Options{Workers: 4, SequentialThreshold: 16}

// Engine applies rules stored in a repository.
type Engine struct {
	rules     store.RuleStore
	txs       store.TransactionStore
	recorder  *applog.Recorder
	evaluator *evaluator.Evaluator
	applier   *applier.Applier
	pool      *batchProcessor
	logger    logging.Logger
}

// New creates an Engine reading rules and transactions from repo and
// recording applications through recorder.
func New(repo store.Repository, recorder *applog.Recorder, logger logging.Logger, opts Options) *Engine {
	return &Engine{
		rules:     repo,
		txs:       repo,
		recorder:  recorder,
		evaluator: evaluator.NewEvaluator(logger),
		applier:   applier.NewApplier(logger),
		pool:      newBatchProcessor(logger, opts.Workers, opts.SequentialThreshold),
		logger:    logger,
	}
}

// ApplyRules runs the staged pipeline on tx and returns the rules that
// changed it, in firing order. tx is updated in place with every committed
// change. When ruleIDs is non-empty only those rules are considered.
//
// Per-rule failures are logged and do not produce an error. An error is
// returned only when rules cannot be loaded or ctx is done; the results
// gathered so far are returned with it.
func (e *Engine) ApplyRules(ctx context.Context, tx *models.Transaction, ruleIDs ...string) ([]models.AppliedRuleResult, error) {
	if tx == nil {
		return nil, errors.New("no transaction to apply rules to")
	}

	start := time.Now()
	results := []models.AppliedRuleResult{}
	for _, stage := range models.Stages {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		rules, err := e.rules.ListActiveRules(ctx, tx.WorkspaceID, stage, ruleIDs)
		if err != nil {
			return results, fmt.Errorf("failed to load %s rules for workspace %s: %w", stage, tx.WorkspaceID, err)
		}
		for i := range rules {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			if res, ok := e.applyRule(ctx, &rules[i], tx); ok {
				results = append(results, res)
			}
		}
	}

	e.logger.Debug("Rules applied to transaction",
		logging.F(logging.FieldTransactionID, tx.ID),
		logging.F(logging.FieldCount, len(results)),
		logging.F(logging.FieldDuration, time.Since(start).Milliseconds()))
	return results, nil
}

// applyRule evaluates one rule and commits its effect. It reports whether
// the rule changed the transaction.
func (e *Engine) applyRule(ctx context.Context, rule *models.Rule, tx *models.Transaction) (models.AppliedRuleResult, bool) {
	if !e.evaluator.Matches(rule, tx) {
		return models.AppliedRuleResult{}, false
	}

	log := e.logger.WithFields(
		logging.F(logging.FieldRuleID, rule.ID),
		logging.F(logging.FieldRuleName, rule.Name),
		logging.F(logging.FieldTransactionID, tx.ID),
		logging.F(logging.FieldStage, string(rule.Stage)))

	if len(rule.Conditions) == 0 {
		log.Warn("Rule has no conditions and matches every transaction")
	}

	working := tx.Clone()
	applied, err := e.runActions(rule, working)
	if err != nil {
		log.WithError(err).Error("Rule failed, changes discarded")
		return models.AppliedRuleResult{}, false
	}
	if len(applied) == 0 {
		log.Debug("Rule matched but changed nothing")
		return models.AppliedRuleResult{}, false
	}

	if _, err := e.recorder.Record(ctx, rule, working, applied); err != nil {
		appErr := &ruleerror.ApplicationError{RuleID: rule.ID, TransactionID: tx.ID, Err: err}
		log.WithError(appErr).Error("Rule application could not be committed, changes discarded")
		return models.AppliedRuleResult{}, false
	}

	*tx = *working
	log.Info("Rule applied", logging.F(logging.FieldCount, len(applied)))
	return models.AppliedRuleResult{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		Stage:          rule.Stage,
		ActionsApplied: applied,
	}, true
}

// runActions applies every action of rule to working in order. The first
// failing action aborts the rule.
func (e *Engine) runActions(rule *models.Rule, working *models.Transaction) ([]models.AppliedAction, error) {
	var applied []models.AppliedAction
	for _, action := range rule.Actions {
		ok, err := e.applier.Apply(action, working)
		if err != nil {
			return nil, &ruleerror.ApplicationError{
				RuleID:        rule.ID,
				TransactionID: working.ID,
				ActionType:    string(action.Type),
				Err:           err,
			}
		}
		if ok {
			applied = append(applied, models.AppliedAction{
				ActionType:  action.Type,
				ActionValue: action.DisplayValue(),
			})
		}
	}
	return applied, nil
}

// ApplyRulesBatch runs ApplyRules over txs using the worker pool. Only
// transactions changed by at least one rule appear in the result, in input
// order. Failures of individual transactions are joined into the returned
// error without stopping the batch.
func (e *Engine) ApplyRulesBatch(ctx context.Context, txs []*models.Transaction, ruleIDs []string) ([]models.TransactionResult, error) {
	start := time.Now()
	jobResults := e.pool.process(ctx, txs, func(ctx context.Context, tx *models.Transaction) ([]models.AppliedRuleResult, error) {
		return e.ApplyRules(ctx, tx, ruleIDs...)
	})

	out := []models.TransactionResult{}
	var errs []error
	for _, r := range jobResults {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("transaction %s: %w", transactionID(txs[r.index]), r.err))
		}
		if len(r.applied) > 0 {
			out = append(out, models.TransactionResult{
				TransactionID: txs[r.index].ID,
				AppliedRules:  r.applied,
			})
		}
	}

	e.logger.Info("Batch rule application completed",
		logging.F(logging.FieldCount, len(txs)),
		logging.F("changed", len(out)),
		logging.F("failed", len(errs)),
		logging.F(logging.FieldDuration, time.Since(start).Milliseconds()))
	return out, errors.Join(errs...)
}

func transactionID(tx *models.Transaction) string {
	if tx == nil {
		return ""
	}
	return tx.ID
}
