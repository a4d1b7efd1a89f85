// Package report renders engine results, rules and logs for humans (text)
// and machines (json).
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"

	"github.com/dustin/go-humanize"
)

// Formats supported by GenerateReport.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ReportGenerator renders results in the supported formats.
type ReportGenerator struct {
	logger logging.Logger
	now    func() time.Time
}

// NewReportGenerator creates a new instance of ReportGenerator.
func NewReportGenerator(logger logging.Logger) *ReportGenerator {
	return &ReportGenerator{
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for relative times.
func (g *ReportGenerator) SetClock(now func() time.Time) {
	g.now = now
}

// GenerateReport renders v in format. Text rendering supports test
// results, applied rule results, batch results, application logs, rules
// and settings; json accepts any value.
func (g *ReportGenerator) GenerateReport(v interface{}, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			g.logger.WithError(err).Error("Failed to marshal JSON report")
			return nil, fmt.Errorf("failed to marshal JSON report: %w", err)
		}
		return append(out, '\n'), nil
	case FormatText:
		var buf bytes.Buffer
		if err := g.writeText(&buf, v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// Write renders v in format to w.
func (g *ReportGenerator) Write(w io.Writer, v interface{}, format string) error {
	out, err := g.GenerateReport(v, format)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func (g *ReportGenerator) writeText(w io.Writer, v interface{}) error {
	switch r := v.(type) {
	case []models.TestResult:
		writeTestResults(w, r)
		return nil
	case []models.AppliedRuleResult:
		return writeTable(w, appliedRows(r))
	case []models.TransactionResult:
		return writeTable(w, batchRows(r))
	case []models.ApplicationLog:
		return writeTable(w, logRows(r))
	case []models.Rule:
		return writeTable(w, g.ruleRows(r))
	case models.Settings:
		writeSettings(w, r)
		return nil
	}
	return fmt.Errorf("no text rendering for %T", v)
}

func writeTable(w io.Writer, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeTestResults(w io.Writer, results []models.TestResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No transaction matched.")
		return
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Transaction %s  %s  %s\n", r.TransactionID, r.Description, r.Amount)

		names := make([]string, 0, len(r.MatchedRules))
		for _, m := range r.MatchedRules {
			names = append(names, fmt.Sprintf("%s (%s)", m.RuleName, m.Stage))
		}
		fmt.Fprintf(w, "  matched: %s\n", strings.Join(names, ", "))

		fmt.Fprintln(w, "  would apply:")
		for _, a := range r.WouldApplyActions {
			mark := " "
			if a.WouldApply {
				mark = "x"
			}
			fmt.Fprintf(w, "    [%s] %s = %s\n", mark, a.ActionType, a.ActionValue)
		}
		if len(r.AppliedActions) > 0 {
			fmt.Fprintln(w, "  applied:")
			for _, a := range r.AppliedActions {
				fmt.Fprintf(w, "    %s = %s\n", a.ActionType, a.ActionValue)
			}
		}
	}
}

func appliedRows(results []models.AppliedRuleResult) [][]string {
	rows := [][]string{{"RULE", "STAGE", "ACTIONS"}}
	for _, r := range results {
		rows = append(rows, []string{r.RuleName, string(r.Stage), joinActions(r.ActionsApplied)})
	}
	return rows
}

func batchRows(results []models.TransactionResult) [][]string {
	rows := [][]string{{"TRANSACTION", "RULE", "STAGE", "ACTIONS"}}
	for _, tr := range results {
		for _, r := range tr.AppliedRules {
			rows = append(rows, []string{tr.TransactionID, r.RuleName, string(r.Stage), joinActions(r.ActionsApplied)})
		}
	}
	return rows
}

func logRows(logs []models.ApplicationLog) [][]string {
	rows := [][]string{{"APPLIED AT", "RULE", "TRANSACTION", "ACTIONS"}}
	for _, l := range logs {
		rows = append(rows, []string{
			l.AppliedAt.UTC().Format(time.RFC3339),
			l.RuleName,
			l.TransactionID,
			l.Summary(),
		})
	}
	return rows
}

func (g *ReportGenerator) ruleRows(rules []models.Rule) [][]string {
	now := g.now()
	rows := [][]string{{"STAGE", "PRIORITY", "NAME", "TYPE", "ACTIVE", "APPLIED", "LAST APPLIED"}}
	for _, r := range rules {
		last := "never"
		if r.LastAppliedAt != nil {
			last = humanize.RelTime(*r.LastAppliedAt, now, "ago", "from now")
		}
		name := r.Name
		if r.AutoGenerated {
			name += " *"
		}
		rows = append(rows, []string{
			string(r.Stage),
			fmt.Sprint(r.Priority),
			name,
			string(r.RuleType),
			yesNo(r.Active),
			humanize.Comma(int64(r.TimesApplied)),
			last,
		})
	}
	return rows
}

func writeSettings(w io.Writer, s models.Settings) {
	fmt.Fprintf(w, "workspace:                     %s\n", s.WorkspaceID)
	fmt.Fprintf(w, "auto_learning_enabled:         %t\n", s.AutoLearningEnabled)
	fmt.Fprintf(w, "auto_create_category_rules:    %t\n", s.AutoCreateCategoryRules)
	fmt.Fprintf(w, "auto_create_beneficiary_rules: %t\n", s.AutoCreateBeneficiaryRules)
	excluded := "none"
	if len(s.DisabledBeneficiaries) > 0 {
		excluded = strings.Join(s.DisabledBeneficiaries, ", ")
	}
	fmt.Fprintf(w, "disabled_beneficiaries:        %s\n", excluded)
}

func joinActions(actions []models.AppliedAction) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, "; ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
