// Package apply runs the automation rules over stored transactions.
package apply

import (
	"fmt"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"

	"github.com/spf13/cobra"
)

var ruleIDs []string

// Cmd represents the apply command
var Cmd = &cobra.Command{
	Use:   "apply [transaction-id...]",
	Short: "Apply the active rules to transactions",
	Long: `Apply runs the PRE, DEFAULT and POST rules of the workspace over the given
transactions, or over every transaction of the workspace when none is given.
Changes are committed and recorded in the application log.`,
	RunE: applyFunc,
}

func init() {
	Cmd.Flags().StringSliceVarP(&ruleIDs, "rule", "r", nil, "Only consider these rule ids")
}

func applyFunc(cmd *cobra.Command, args []string) error {
	return root.Run(func(c *container.Container) error {
		ctx := cmd.Context()
		ws := root.SharedFlags.Workspace

		txs, err := c.GetRepository().ListTransactions(ctx, ws, args)
		if err != nil {
			return fmt.Errorf("failed to load transactions: %w", err)
		}
		if len(args) > 0 && len(txs) < len(args) {
			root.Log.Warn("Some transactions were not found",
				logging.F("requested", len(args)),
				logging.F(logging.FieldCount, len(txs)))
		}

		results, err := c.GetEngine().ApplyRulesBatch(ctx, txs, ruleIDs)
		if rerr := root.Render(cmd, c, results); rerr != nil {
			return rerr
		}
		return err
	})
}
