// Package common provides CSV transaction exchange shared by the command
// line and the HTTP API.
package common

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"

	"github.com/gocarina/gocsv"
)

// TagSeparator joins tag names inside the tags column.
const TagSeparator = "|"

// ErrInvalidCSV wraps every failure to parse CSV input.
var ErrInvalidCSV = errors.New("error parsing CSV data")

// Format controls how CSV files are read and written.
type Format struct {
	Delimiter  rune
	DateFormat string
}

// DefaultFormat is comma separated with ISO dates.
var DefaultFormat = Format{Delimiter: ',', DateFormat: models.DateLayout}

// NewFormat builds a Format from configuration values, falling back to
// DefaultFormat for empty ones.
func NewFormat(delimiter, dateFormat string) Format {
	f := DefaultFormat
	if r := []rune(delimiter); len(r) > 0 {
		f.Delimiter = r[0]
	}
	if dateFormat != "" {
		f.DateFormat = dateFormat
	}
	return f
}

// TransactionRow is the CSV form of a transaction. Reference columns hold
// an entity id or name.
type TransactionRow struct {
	ID              string `csv:"id"`
	Date            string `csv:"date"`
	Description     string `csv:"description"`
	Amount          string `csv:"amount"`
	TransactionType string `csv:"transaction_type"`
	Category        string `csv:"category"`
	Beneficiary     string `csv:"beneficiary"`
	Account         string `csv:"account"`
	Tags            string `csv:"tags"`
	Notes           string `csv:"notes"`
	Cleared         string `csv:"cleared"`
}

// IsBlank reports whether every column of the row is empty.
func (r TransactionRow) IsBlank() bool {
	return strings.TrimSpace(r.ID+r.Date+r.Description+r.Amount+r.TransactionType+
		r.Category+r.Beneficiary+r.Account+r.Tags+r.Notes+r.Cleared) == ""
}

// RowFromTransaction converts tx into its CSV form using entity names.
func RowFromTransaction(tx *models.Transaction, format Format) TransactionRow {
	tags := make([]string, 0, len(tx.Tags))
	for _, t := range tx.Tags {
		tags = append(tags, t.Label())
	}
	row := TransactionRow{
		ID:              tx.ID,
		Description:     tx.Description,
		Amount:          tx.Amount.StringFixed(2),
		TransactionType: tx.TransactionType,
		Category:        refLabel(tx.Category),
		Beneficiary:     refLabel(tx.Beneficiary),
		Account:         refLabel(tx.Account),
		Tags:            strings.Join(tags, TagSeparator),
		Notes:           tx.Notes,
		Cleared:         strconv.FormatBool(tx.Cleared),
	}
	if !tx.Date.IsZero() {
		row.Date = tx.Date.Format(format.DateFormat)
	}
	return row
}

func refLabel(r *models.EntityRef) string {
	if r == nil {
		return ""
	}
	return r.Label()
}

// ReadCSV decodes CSV data with a header line into a slice of TRow.
func ReadCSV[TRow any](r io.Reader, format Format) ([]TRow, error) {
	reader := csv.NewReader(r)
	reader.Comma = format.Delimiter
	reader.TrimLeadingSpace = true

	var rows []TRow
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
	}
	return rows, nil
}

// ReadCSVFile reads a CSV file into a slice of TRow.
func ReadCSVFile[TRow any](filePath string, format Format, logger logging.Logger) ([]TRow, error) {
	logger.Info("Reading CSV file", logging.F(logging.FieldInputFile, filePath))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening CSV file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close file")
		}
	}()

	rows, err := ReadCSV[TRow](file, format)
	if err != nil {
		return nil, err
	}
	logger.Debug("Read CSV data", logging.F(logging.FieldCount, len(rows)))
	return rows, nil
}

// WriteCSV encodes rows, a slice of structs with csv tags, with a header.
func WriteCSV(w io.Writer, rows interface{}, format Format) error {
	writer := csv.NewWriter(w)
	writer.Comma = format.Delimiter
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(writer)); err != nil {
		return fmt.Errorf("error writing CSV data: %w", err)
	}
	return nil
}

// WriteTransactionsToCSV writes transactions to csvFile, creating its
// directory when needed.
func WriteTransactionsToCSV(transactions []*models.Transaction, csvFile string, format Format, logger logging.Logger) error {
	if transactions == nil {
		return fmt.Errorf("cannot write nil transactions to CSV")
	}

	dir := filepath.Dir(csvFile)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	file, err := os.Create(csvFile) // #nosec G304 -- path chosen by the operator
	if err != nil {
		return fmt.Errorf("error creating CSV file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close file")
		}
	}()

	rows := make([]TransactionRow, 0, len(transactions))
	for _, tx := range transactions {
		rows = append(rows, RowFromTransaction(tx, format))
	}
	if err := WriteCSV(file, rows, format); err != nil {
		return err
	}

	logger.Info("Wrote transactions to CSV file",
		logging.F(logging.FieldOutputFile, csvFile),
		logging.F(logging.FieldCount, len(rows)))
	return nil
}
