package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommitApplication persists the mutated transaction, the log entry and the
// rule statistics in a single SQL transaction.
func (s *Store) CommitApplication(ctx context.Context, commit models.RuleCommit) error {
	if commit.Transaction == nil {
		return fmt.Errorf("commit for rule %s has no transaction", commit.RuleID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := saveTransaction(ctx, tx, commit.Transaction); err != nil {
		return err
	}
	if err := insertLog(ctx, tx, commit.Log); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE rules SET times_applied = times_applied + 1, last_applied_at = ?
		WHERE id = ?`, formatTime(commit.AppliedAt), commit.RuleID)
	if err != nil {
		return fmt.Errorf("update statistics of rule %s: %w", commit.RuleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update statistics of rule %s: %w", commit.RuleID, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", commit.RuleID, store.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit application of rule %s: %w", commit.RuleID, err)
	}
	return nil
}

func insertLog(ctx context.Context, q querier, l models.ApplicationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	actions := l.ActionsApplied
	if actions == nil {
		actions = []models.AppliedAction{}
	}
	payload, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode actions of log %s: %w", l.ID, err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO application_logs
		(id, workspace_id, rule_id, rule_name, transaction_id, applied_at, actions_applied)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.WorkspaceID, l.RuleID, l.RuleName, l.TransactionID, formatTime(l.AppliedAt), string(payload))
	if err != nil {
		return fmt.Errorf("insert log %s: %w", l.ID, err)
	}
	return nil
}

// ListApplicationLogs returns matching logs, newest first.
func (s *Store) ListApplicationLogs(ctx context.Context, filter store.LogFilter) ([]models.ApplicationLog, error) {
	var where []string
	var args []any
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, filter.TransactionID)
	}

	query := `SELECT id, workspace_id, rule_id, rule_name, transaction_id, applied_at, actions_applied
		FROM application_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY applied_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ApplicationLog
	for rows.Next() {
		var (
			l         models.ApplicationLog
			appliedAt string
			payload   string
		)
		if err := rows.Scan(&l.ID, &l.WorkspaceID, &l.RuleID, &l.RuleName, &l.TransactionID,
			&appliedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if l.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &l.ActionsApplied); err != nil {
			return nil, fmt.Errorf("decode actions of log %s: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return logs, nil
}

// GetSettings returns the stored settings of a workspace.
func (s *Store) GetSettings(ctx context.Context, workspaceID string) (*models.Settings, error) {
	var (
		st                        models.Settings
		learning, category, benef int
		disabled, updatedAt       string
	)
	err := s.db.QueryRowContext(ctx, `SELECT workspace_id, auto_learning_enabled, auto_create_category_rules,
		auto_create_beneficiary_rules, disabled_beneficiaries, updated_at
		FROM automation_settings WHERE workspace_id = ?`, workspaceID).
		Scan(&st.WorkspaceID, &learning, &category, &benef, &disabled, &updatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("settings of workspace %s: %w", workspaceID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	st.AutoLearningEnabled = learning != 0
	st.AutoCreateCategoryRules = category != 0
	st.AutoCreateBeneficiaryRules = benef != 0
	if err := json.Unmarshal([]byte(disabled), &st.DisabledBeneficiaries); err != nil {
		return nil, fmt.Errorf("decode excluded beneficiaries: %w", err)
	}
	if st.DisabledBeneficiaries == nil {
		st.DisabledBeneficiaries = []string{}
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveSettings upserts the settings of a workspace.
func (s *Store) SaveSettings(ctx context.Context, settings *models.Settings) error {
	disabled := settings.DisabledBeneficiaries
	if disabled == nil {
		disabled = []string{}
	}
	payload, err := json.Marshal(disabled)
	if err != nil {
		return fmt.Errorf("encode excluded beneficiaries: %w", err)
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO automation_settings (workspace_id, auto_learning_enabled,
		auto_create_category_rules, auto_create_beneficiary_rules, disabled_beneficiaries, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET
			auto_learning_enabled = excluded.auto_learning_enabled,
			auto_create_category_rules = excluded.auto_create_category_rules,
			auto_create_beneficiary_rules = excluded.auto_create_beneficiary_rules,
			disabled_beneficiaries = excluded.disabled_beneficiaries,
			updated_at = excluded.updated_at`,
		settings.WorkspaceID, boolToInt(settings.AutoLearningEnabled), boolToInt(settings.AutoCreateCategoryRules),
		boolToInt(settings.AutoCreateBeneficiaryRules), string(payload), formatTime(settings.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save settings of workspace %s: %w", settings.WorkspaceID, err)
	}
	return nil
}

const transactionColumns = `t.id, t.workspace_id, t.description, t.amount, t.date, t.transaction_type,
	t.category_id, COALESCE(c.name, ''), t.beneficiary_id, COALESCE(b.name, ''),
	t.account_id, COALESCE(a.name, ''), t.notes, t.cleared`

const transactionFrom = ` FROM transactions t
	LEFT JOIN entities c ON c.id = t.category_id
	LEFT JOIN entities b ON b.id = t.beneficiary_id
	LEFT JOIN entities a ON a.id = t.account_id`

// GetTransaction loads one transaction with resolved references and tags.
func (s *Store) GetTransaction(ctx context.Context, workspaceID, id string) (*models.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `SELECT `+transactionColumns+transactionFrom+
		` WHERE t.workspace_id = ? AND t.id = ?`, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return txs[0], nil
}

// ListTransactions returns the requested transactions in the order of ids,
// or every transaction of the workspace by date when ids is empty.
func (s *Store) ListTransactions(ctx context.Context, workspaceID string, ids []string) ([]*models.Transaction, error) {
	if len(ids) == 0 {
		return s.queryTransactions(ctx, `SELECT `+transactionColumns+transactionFrom+
			` WHERE t.workspace_id = ? ORDER BY t.date, t.id`, workspaceID)
	}

	byID := make(map[string]*models.Transaction, len(ids))
	for _, chunk := range chunks(ids) {
		txs, err := s.queryTransactions(ctx, `SELECT `+transactionColumns+transactionFrom+
			` WHERE t.workspace_id = ? AND t.id IN (`+inClause(len(chunk))+`)`,
			toArgs([]any{workspaceID}, chunk)...)
		if err != nil {
			return nil, err
		}
		for _, t := range txs {
			byID[t.ID] = t
		}
	}
	out := make([]*models.Transaction, 0, len(byID))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
			delete(byID, id)
		}
	}
	return out, nil
}

// SaveTransaction upserts a transaction and replaces its tags.
func (s *Store) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := saveTransaction(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func saveTransaction(ctx context.Context, q querier, t *models.Transaction) error {
	res, err := q.ExecContext(ctx, `INSERT INTO transactions (id, workspace_id, description, amount, date,
		transaction_type, category_id, beneficiary_id, account_id, notes, cleared)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			amount = excluded.amount,
			date = excluded.date,
			transaction_type = excluded.transaction_type,
			category_id = excluded.category_id,
			beneficiary_id = excluded.beneficiary_id,
			account_id = excluded.account_id,
			notes = excluded.notes,
			cleared = excluded.cleared
		WHERE transactions.workspace_id = excluded.workspace_id`,
		t.ID, t.WorkspaceID, t.Description, t.Amount.String(), models.FormatDate(t.Date), t.TransactionType,
		nullString(models.RefID(t.Category)), nullString(models.RefID(t.Beneficiary)),
		nullString(models.RefID(t.Account)), t.Notes, boolToInt(t.Cleared))
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, store.ErrConflict)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clear tags of transaction %s: %w", t.ID, err)
	}
	for i, tag := range t.Tags {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO transaction_tags (transaction_id, tag_id, position)
			VALUES (?, ?, ?)`, t.ID, tag.ID, i); err != nil {
			return fmt.Errorf("tag transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if err := loadTags(ctx, s.db, txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var (
			t                                    models.Transaction
			amount, date                         string
			categoryID, beneficiaryID, accountID sql.NullString
			categoryName, benefName, accountName string
			cleared                              int
		)
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.Description, &amount, &date, &t.TransactionType,
			&categoryID, &categoryName, &beneficiaryID, &benefName, &accountID, &accountName,
			&t.Notes, &cleared); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q on transaction %s: %w", amount, t.ID, err)
		}
		t.Amount = d
		if date != "" {
			if t.Date, err = models.ParseDate(date); err != nil {
				return nil, fmt.Errorf("invalid date on transaction %s: %w", t.ID, err)
			}
		}
		t.Category = scanRef(categoryID, categoryName)
		t.Beneficiary = scanRef(beneficiaryID, benefName)
		t.Account = scanRef(accountID, accountName)
		t.Cleared = cleared != 0
		t.Tags = []models.EntityRef{}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func scanRef(id sql.NullString, name string) *models.EntityRef {
	if !id.Valid || id.String == "" {
		return nil
	}
	return &models.EntityRef{ID: id.String, Name: name}
}

func loadTags(ctx context.Context, q querier, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	byID := make(map[string]*models.Transaction, len(txs))
	ids := make([]string, 0, len(txs))
	for _, t := range txs {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	for _, chunk := range chunks(ids) {
		err := func() error {
			rows, err := q.QueryContext(ctx, `SELECT tt.transaction_id, tt.tag_id, COALESCE(e.name, '')
				FROM transaction_tags tt LEFT JOIN entities e ON e.id = tt.tag_id
				WHERE tt.transaction_id IN (`+inClause(len(chunk))+`)
				ORDER BY tt.transaction_id, tt.position`, toArgs(nil, chunk)...)
			if err != nil {
				return fmt.Errorf("query tags: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var txID string
				var ref models.EntityRef
				if err := rows.Scan(&txID, &ref.ID, &ref.Name); err != nil {
					return fmt.Errorf("scan tag: %w", err)
				}
				if t, ok := byID[txID]; ok {
					t.Tags = append(t.Tags, ref)
				}
			}
			return rows.Err()
		}()
		if err != nil {
			return err
		}
	}
	return nil
}

// LookupEntity resolves an entity by kind and id in any workspace.
func (s *Store) LookupEntity(ctx context.Context, kind models.EntityKind, id string) (*models.Entity, error) {
	var e models.Entity
	var k string
	err := s.db.QueryRowContext(ctx, `SELECT id, workspace_id, kind, name FROM entities
		WHERE id = ? AND kind = ?`, id, string(kind)).Scan(&e.ID, &e.WorkspaceID, &k, &e.Name)
	if isNoRows(err) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query entity: %w", err)
	}
	e.Kind = models.EntityKind(k)
	return &e, nil
}

// ListEntities returns the entities of one kind in a workspace by name.
func (s *Store) ListEntities(ctx context.Context, workspaceID string, kind models.EntityKind) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, workspace_id, kind, name FROM entities
		WHERE workspace_id = ? AND kind = ? ORDER BY name, id`, workspaceID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var e models.Entity
		var k string
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &k, &e.Name); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Kind = models.EntityKind(k)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// SaveEntity upserts an entity.
func (s *Store) SaveEntity(ctx context.Context, e *models.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO entities (id, workspace_id, kind, name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET workspace_id = excluded.workspace_id, kind = excluded.kind, name = excluded.name`,
		e.ID, e.WorkspaceID, string(e.Kind), e.Name)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}
