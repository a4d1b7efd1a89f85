// Package importcsv imports transactions from CSV and runs the rules on
// them.
package importcsv

import (
	"fmt"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/common"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/report"
	"fjacquet/txrules/internal/validation"

	"github.com/spf13/cobra"
)

var (
	noRules bool
	output  string
)

// Cmd represents the import command
var Cmd = &cobra.Command{
	Use:   "import <transactions.csv>",
	Short: "Import transactions from CSV and apply the rules to them",
	Long: `Import stores the transactions of a CSV file in the workspace and runs the
active rules over them. Categories, beneficiaries, accounts and tags may be
given by id or by name. Rows that cannot be read are skipped and reported.

With --output the transactions of the workspace are written back to CSV
after the rules ran.`,
	Args: cobra.ExactArgs(1),
	RunE: importFunc,
}

func init() {
	Cmd.Flags().BoolVar(&noRules, "no-rules", false, "Store the transactions without applying rules")
	Cmd.Flags().StringVarP(&output, "output", "o", "", "Write the workspace transactions to this CSV file")
}

func importFunc(cmd *cobra.Command, args []string) error {
	if err := validation.IsValidInputFile(args[0]); err != nil {
		return err
	}

	return root.Run(func(c *container.Container) error {
		ctx := cmd.Context()
		ws := root.SharedFlags.Workspace

		rep, err := c.GetImporter().ImportFile(ctx, ws, args[0], !noRules)
		if rerr := render(cmd, c, rep); rerr != nil {
			return rerr
		}
		if err != nil {
			return err
		}

		if output == "" {
			return nil
		}
		txs, err := c.GetRepository().ListTransactions(ctx, ws, nil)
		if err != nil {
			return fmt.Errorf("failed to load transactions: %w", err)
		}
		cfg := c.GetConfig()
		format := common.NewFormat(cfg.CSV.Delimiter, cfg.CSV.DateFormat)
		return common.WriteTransactionsToCSV(txs, output, format, c.GetLogger())
	})
}

func render(cmd *cobra.Command, c *container.Container, rep common.ImportReport) error {
	if root.SharedFlags.Format == report.FormatJSON {
		return root.Render(cmd, c, rep)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "imported: %d, skipped: %d, changed by rules: %d\n", rep.Imported, len(rep.Skipped), len(rep.Results))
	for _, s := range rep.Skipped {
		fmt.Fprintf(w, "skipped %s\n", s)
	}
	if len(rep.Results) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return root.Render(cmd, c, rep.Results)
}
