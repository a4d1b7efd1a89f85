package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/google/uuid"
)

const ruleColumns = `id, workspace_id, owner_id, name, description, rule_type, stage,
	active, priority, auto_generated, times_applied, last_applied_at, created_at, updated_at`

// CreateRule inserts a rule with its conditions and actions. Missing ids
// and timestamps are filled in on rule.
func (s *Store) CreateRule(ctx context.Context, rule *models.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lastApplied sql.NullString
	if rule.LastAppliedAt != nil {
		lastApplied = nullString(formatTime(*rule.LastAppliedAt))
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.WorkspaceID, rule.OwnerID, rule.Name, rule.Description,
		string(rule.RuleType), string(rule.Stage), boolToInt(rule.Active), rule.Priority,
		boolToInt(rule.AutoGenerated), rule.TimesApplied, lastApplied,
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", rule.ID, err)
	}
	if err := insertRuleChildren(ctx, tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateRule rewrites the definition of an existing rule. Application
// statistics are left untouched.
func (s *Store) UpdateRule(ctx context.Context, rule *models.Rule) error {
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE rules SET owner_id = ?, name = ?, description = ?,
		rule_type = ?, stage = ?, active = ?, priority = ?, auto_generated = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?`,
		rule.OwnerID, rule.Name, rule.Description, string(rule.RuleType), string(rule.Stage),
		boolToInt(rule.Active), rule.Priority, boolToInt(rule.AutoGenerated),
		formatTime(rule.UpdatedAt), rule.ID, rule.WorkspaceID)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	} else if n == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, store.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_conditions WHERE rule_id = ?`, rule.ID); err != nil {
		return fmt.Errorf("clear conditions of rule %s: %w", rule.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_actions WHERE rule_id = ?`, rule.ID); err != nil {
		return fmt.Errorf("clear actions of rule %s: %w", rule.ID, err)
	}
	if err := insertRuleChildren(ctx, tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRule removes a rule. Its conditions, actions and logs cascade.
func (s *Store) DeleteRule(ctx context.Context, workspaceID, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ? AND workspace_id = ?`, ruleID, workspaceID)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", ruleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", ruleID, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, store.ErrNotFound)
	}
	return nil
}

// GetRule loads one rule with its children.
func (s *Store) GetRule(ctx context.Context, workspaceID, ruleID string) (*models.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ? AND workspace_id = ?`,
		ruleID, workspaceID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule %s: %w", ruleID, store.ErrNotFound)
	}
	return &rules[0], nil
}

// ListRules returns every rule of the workspace in evaluation order.
func (s *Store) ListRules(ctx context.Context, workspaceID string) ([]models.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE workspace_id = ?
		ORDER BY priority, name`, workspaceID)
}

// ListActiveRules returns the active rules of one stage in evaluation
// order, with referenced entities resolved in the same pass.
func (s *Store) ListActiveRules(ctx context.Context, workspaceID string, stage models.Stage, ruleIDs []string) ([]models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE workspace_id = ? AND stage = ? AND active = 1`
	args := []any{workspaceID, string(stage)}
	if len(ruleIDs) > 0 {
		var all []models.Rule
		for _, chunk := range chunks(ruleIDs) {
			rules, err := s.queryRules(ctx, query+` AND id IN (`+inClause(len(chunk))+`)`, toArgs(args, chunk)...)
			if err != nil {
				return nil, err
			}
			all = append(all, rules...)
		}
		models.SortRules(all)
		return all, nil
	}
	return s.queryRules(ctx, query+` ORDER BY priority, name`, args...)
}

// FindRuleByName returns the rule with the given identity key.
func (s *Store) FindRuleByName(ctx context.Context, workspaceID string, stage models.Stage, ruleType models.RuleType, name string) (*models.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules
		WHERE workspace_id = ? AND stage = ? AND rule_type = ? AND name = ?
		ORDER BY created_at LIMIT 1`,
		workspaceID, string(stage), string(ruleType), name)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, store.ErrNotFound
	}
	return &rules[0], nil
}

func insertRuleChildren(ctx context.Context, q querier, rule *models.Rule) error {
	for i := range rule.Conditions {
		if rule.Conditions[i].ID == "" {
			rule.Conditions[i].ID = uuid.NewString()
		}
		rec := rule.Conditions[i].Record()
		values := rec.TextValues
		if values == nil {
			values = []string{}
		}
		textValues, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("encode condition %s: %w", rec.ID, err)
		}
		_, err = q.ExecContext(ctx, `INSERT INTO rule_conditions (id, rule_id, position, condition_type,
			case_sensitive, text_value, text_values, numeric_value, numeric_value_max, date_value, date_value_max)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rule.ID, i, string(rec.Type), boolToInt(rec.CaseSensitive), rec.TextValue,
			string(textValues), rec.NumericValue, rec.NumericValueMax, rec.DateValue, rec.DateValueMax)
		if err != nil {
			return fmt.Errorf("insert condition %s: %w", rec.ID, err)
		}
		for j, ref := range rec.Refs {
			_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO rule_condition_refs (condition_id, entity_id, position)
				VALUES (?, ?, ?)`, rec.ID, ref.ID, j)
			if err != nil {
				return fmt.Errorf("insert reference of condition %s: %w", rec.ID, err)
			}
		}
	}

	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = uuid.NewString()
		}
		rec := rule.Actions[i].Record()
		var refID sql.NullString
		if rec.Ref != nil {
			refID = nullString(rec.Ref.ID)
		}
		_, err := q.ExecContext(ctx, `INSERT INTO rule_actions (id, rule_id, position, action_type,
			overwrite_existing, ref_id, text_value, numeric_value, date_value, boolean_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rule.ID, i, string(rec.Type), boolToInt(rec.OverwriteExisting), refID,
			rec.TextValue, rec.NumericValue, rec.DateValue, boolToInt(rec.BooleanValue))
		if err != nil {
			return fmt.Errorf("insert action %s: %w", rec.ID, err)
		}
	}
	return nil
}

// queryRules runs a rule query, closes the result set and then loads the
// children. With a single connection the two phases cannot overlap.
func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if err := loadRuleChildren(ctx, s.db, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func scanRules(rows *sql.Rows) ([]models.Rule, error) {
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var (
			r                    models.Rule
			ruleType, stage      string
			active, autoGen      int
			lastApplied          sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.OwnerID, &r.Name, &r.Description, &ruleType, &stage,
			&active, &r.Priority, &autoGen, &r.TimesApplied, &lastApplied, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.RuleType = models.RuleType(ruleType)
		r.Stage = models.Stage(stage)
		r.Active = active != 0
		r.AutoGenerated = autoGen != 0

		var err error
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if lastApplied.Valid && lastApplied.String != "" {
			t, err := parseTime(lastApplied.String)
			if err != nil {
				return nil, err
			}
			r.LastAppliedAt = &t
		}
		r.Conditions = []models.Condition{}
		r.Actions = []models.Action{}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

type conditionRow struct {
	ruleID string
	rec    models.ConditionRecord
}

// loadRuleChildren batch-loads conditions, their referenced entities and
// actions for all rules, three queries per chunk of rules.
func loadRuleChildren(ctx context.Context, q querier, rules []models.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	index := make(map[string]int, len(rules))
	ids := make([]string, 0, len(rules))
	for i, r := range rules {
		index[r.ID] = i
		ids = append(ids, r.ID)
	}

	for _, chunk := range chunks(ids) {
		conds, err := loadConditions(ctx, q, chunk)
		if err != nil {
			return err
		}
		for _, row := range conds {
			i := index[row.ruleID]
			rules[i].Conditions = append(rules[i].Conditions, row.rec.Condition())
		}

		actions, err := loadActions(ctx, q, chunk)
		if err != nil {
			return err
		}
		for ruleID, list := range actions {
			i := index[ruleID]
			rules[i].Actions = append(rules[i].Actions, list...)
		}
	}
	return nil
}

func loadConditions(ctx context.Context, q querier, ruleIDs []string) ([]conditionRow, error) {
	in := inClause(len(ruleIDs))
	rows, err := q.QueryContext(ctx, `SELECT id, rule_id, condition_type, case_sensitive, text_value,
		text_values, numeric_value, numeric_value_max, date_value, date_value_max
		FROM rule_conditions WHERE rule_id IN (`+in+`) ORDER BY rule_id, position`, toArgs(nil, ruleIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}

	var out []conditionRow
	byID := make(map[string]int)
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var (
				row           conditionRow
				condType      string
				caseSensitive int
				textValues    string
			)
			if err := rows.Scan(&row.rec.ID, &row.ruleID, &condType, &caseSensitive, &row.rec.TextValue,
				&textValues, &row.rec.NumericValue, &row.rec.NumericValueMax,
				&row.rec.DateValue, &row.rec.DateValueMax); err != nil {
				return fmt.Errorf("scan condition: %w", err)
			}
			row.rec.Type = models.ConditionType(condType)
			row.rec.CaseSensitive = caseSensitive != 0
			// A corrupt list leaves the operand empty; the condition then
			// fails closed when evaluated.
			if err := json.Unmarshal([]byte(textValues), &row.rec.TextValues); err != nil {
				row.rec.TextValues = nil
			}
			byID[row.rec.ID] = len(out)
			out = append(out, row)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	refRows, err := q.QueryContext(ctx, `SELECT r.condition_id, r.entity_id, COALESCE(e.name, '')
		FROM rule_condition_refs r
		JOIN rule_conditions c ON c.id = r.condition_id
		LEFT JOIN entities e ON e.id = r.entity_id
		WHERE c.rule_id IN (`+in+`) ORDER BY r.condition_id, r.position`, toArgs(nil, ruleIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query condition references: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var condID string
		var ref models.EntityRef
		if err := refRows.Scan(&condID, &ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan condition reference: %w", err)
		}
		if i, ok := byID[condID]; ok {
			out[i].rec.Refs = append(out[i].rec.Refs, ref)
		}
	}
	if err := refRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate condition references: %w", err)
	}
	return out, nil
}

func loadActions(ctx context.Context, q querier, ruleIDs []string) (map[string][]models.Action, error) {
	rows, err := q.QueryContext(ctx, `SELECT a.id, a.rule_id, a.action_type, a.overwrite_existing,
		a.ref_id, COALESCE(e.name, ''), a.text_value, a.numeric_value, a.date_value, a.boolean_value
		FROM rule_actions a LEFT JOIN entities e ON e.id = a.ref_id
		WHERE a.rule_id IN (`+inClause(len(ruleIDs))+`) ORDER BY a.rule_id, a.position`,
		toArgs(nil, ruleIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Action)
	for rows.Next() {
		var (
			rec        models.ActionRecord
			ruleID     string
			actionType string
			overwrite  int
			refID      sql.NullString
			refName    string
			boolValue  int
		)
		if err := rows.Scan(&rec.ID, &ruleID, &actionType, &overwrite, &refID, &refName,
			&rec.TextValue, &rec.NumericValue, &rec.DateValue, &boolValue); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Type = models.ActionType(actionType)
		rec.OverwriteExisting = overwrite != 0
		rec.BooleanValue = boolValue != 0
		if refID.Valid && refID.String != "" {
			rec.Ref = &models.EntityRef{ID: refID.String, Name: refName}
		}
		out[ruleID] = append(out[ruleID], rec.Action())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
