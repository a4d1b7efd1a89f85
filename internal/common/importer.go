package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"
	"fjacquet/txrules/internal/textutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleApplier runs the automation rules over imported transactions.
type RuleApplier interface {
	ApplyRulesBatch(ctx context.Context, txs []*models.Transaction, ruleIDs []string) ([]models.TransactionResult, error)
}

// RowError reports a CSV row that could not be imported. Line counts the
// header as line 1.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ImportReport summarizes a CSV import.
type ImportReport struct {
	Imported int                        `json:"imported"`
	Skipped  []string                   `json:"skipped,omitempty"`
	Results  []models.TransactionResult `json:"results,omitempty"`
}

// Importer stores transactions read from CSV and applies the rules to
// them, the way a statement import does.
type Importer struct {
	transactions store.TransactionStore
	entities     store.EntityStore
	applier      RuleApplier
	logger       logging.Logger
	format       Format
	newID        func() string
}

// NewImporter creates an Importer. applier may be nil when rules are never
// applied on import.
func NewImporter(transactions store.TransactionStore, entities store.EntityStore, applier RuleApplier, logger logging.Logger, format Format) *Importer {
	return &Importer{
		transactions: transactions,
		entities:     entities,
		applier:      applier,
		logger:       logger,
		format:       format,
		newID:        uuid.NewString,
	}
}

// ImportFile imports the CSV file at path into workspaceID.
func (i *Importer) ImportFile(ctx context.Context, workspaceID, path string, applyRules bool) (ImportReport, error) {
	file, err := os.Open(path) // #nosec G304 -- path chosen by the operator
	if err != nil {
		return ImportReport{}, fmt.Errorf("error opening CSV file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			i.logger.WithError(err).Warn("Failed to close file")
		}
	}()
	i.logger.Info("Importing transactions", logging.F(logging.FieldInputFile, path))
	return i.Import(ctx, workspaceID, file, applyRules)
}

// Import reads transactions from r, stores them and, when applyRules is
// set, runs the active rules over them. Rows that cannot be converted, or
// whose id is taken by another workspace, are skipped and reported; any
// other store failure aborts the import.
func (i *Importer) Import(ctx context.Context, workspaceID string, r io.Reader, applyRules bool) (ImportReport, error) {
	var report ImportReport

	rows, err := ReadCSV[TransactionRow](r, i.format)
	if err != nil {
		return report, err
	}
	resolver, err := NewEntityResolver(ctx, i.entities, workspaceID)
	if err != nil {
		return report, err
	}

	imported := make([]*models.Transaction, 0, len(rows))
	for n, row := range rows {
		if row.IsBlank() {
			continue
		}
		tx, err := row.Transaction(workspaceID, i.format, resolver)
		if err != nil {
			rowErr := &RowError{Line: n + 2, Err: err}
			report.Skipped = append(report.Skipped, rowErr.Error())
			i.logger.WithError(err).Warn("Skipping CSV row", logging.F("line", n+2))
			continue
		}
		if tx.ID == "" {
			tx.ID = i.newID()
		}
		if err := i.transactions.SaveTransaction(ctx, tx); err != nil {
			if errors.Is(err, store.ErrConflict) {
				rowErr := &RowError{Line: n + 2, Err: err}
				report.Skipped = append(report.Skipped, rowErr.Error())
				i.logger.WithError(err).Warn("Skipping CSV row", logging.F("line", n+2))
				continue
			}
			return report, fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
		}
		imported = append(imported, tx)
	}
	report.Imported = len(imported)

	if applyRules && i.applier != nil && len(imported) > 0 {
		results, err := i.applier.ApplyRulesBatch(ctx, imported, nil)
		report.Results = results
		if err != nil {
			return report, fmt.Errorf("rules failed on imported transactions: %w", err)
		}
	}

	i.logger.Info("Transactions imported",
		logging.F(logging.FieldWorkspaceID, workspaceID),
		logging.F(logging.FieldCount, report.Imported),
		logging.F("skipped", len(report.Skipped)),
		logging.F("changed", len(report.Results)))
	return report, nil
}

// Transaction converts the row into a transaction of workspaceID.
func (r TransactionRow) Transaction(workspaceID string, format Format, resolver *EntityResolver) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:              strings.TrimSpace(r.ID),
		WorkspaceID:     workspaceID,
		Description:     strings.TrimSpace(r.Description),
		TransactionType: strings.ToLower(strings.TrimSpace(r.TransactionType)),
		Notes:           r.Notes,
	}

	amount := strings.TrimSpace(r.Amount)
	if amount == "" {
		return nil, errors.New("amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	tx.Amount = d

	if date := strings.TrimSpace(r.Date); date != "" {
		t, err := time.Parse(format.DateFormat, date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", date)
		}
		tx.Date = models.DateOnly(t)
	}

	if c := strings.TrimSpace(r.Cleared); c != "" {
		cleared, err := strconv.ParseBool(c)
		if err != nil {
			return nil, fmt.Errorf("invalid cleared flag %q", c)
		}
		tx.Cleared = cleared
	}

	if tx.Category, err = resolver.Resolve(models.EntityCategory, r.Category); err != nil {
		return nil, err
	}
	if tx.Beneficiary, err = resolver.Resolve(models.EntityBeneficiary, r.Beneficiary); err != nil {
		return nil, err
	}
	if tx.Account, err = resolver.Resolve(models.EntityAccount, r.Account); err != nil {
		return nil, err
	}
	for _, name := range strings.Split(r.Tags, TagSeparator) {
		tag, err := resolver.Resolve(models.EntityTag, name)
		if err != nil {
			return nil, err
		}
		if tag != nil && !tx.HasTag(tag.ID) {
			tx.Tags = append(tx.Tags, *tag)
		}
	}
	return tx, nil
}

// EntityResolver maps the entity ids and names found in CSV columns to
// references of one workspace. Names match case-insensitively.
type EntityResolver struct {
	byID   map[models.EntityKind]map[string]models.EntityRef
	byName map[models.EntityKind]map[string]models.EntityRef
}

// NewEntityResolver loads the entities of workspaceID.
func NewEntityResolver(ctx context.Context, entities store.EntityStore, workspaceID string) (*EntityResolver, error) {
	r := &EntityResolver{
		byID:   make(map[models.EntityKind]map[string]models.EntityRef),
		byName: make(map[models.EntityKind]map[string]models.EntityRef),
	}
	for _, kind := range []models.EntityKind{models.EntityCategory, models.EntityBeneficiary, models.EntityAccount, models.EntityTag} {
		list, err := entities.ListEntities(ctx, workspaceID, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s entities: %w", kind, err)
		}
		r.byID[kind] = make(map[string]models.EntityRef, len(list))
		r.byName[kind] = make(map[string]models.EntityRef, len(list))
		for _, e := range list {
			r.byID[kind][e.ID] = e.Ref()
			r.byName[kind][textutils.Fold(e.Name)] = e.Ref()
		}
	}
	return r, nil
}

// Resolve returns the reference named by value, nil for a blank value, or
// an error when no entity of kind matches.
func (r *EntityResolver) Resolve(kind models.EntityKind, value string) (*models.EntityRef, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if ref, ok := r.byID[kind][value]; ok {
		return &ref, nil
	}
	if ref, ok := r.byName[kind][textutils.Fold(value)]; ok {
		return &ref, nil
	}
	return nil, fmt.Errorf("unknown %s %q", kind, value)
}
