// Package simulate previews what the rules would do without changing
// anything.
package simulate

import (
	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/container"

	"github.com/spf13/cobra"
)

var (
	ruleIDs        []string
	transactionIDs []string
	apply          bool
)

// Cmd represents the simulate command
var Cmd = &cobra.Command{
	Use:   "simulate",
	Short: "Show which rules match and what they would change",
	Long: `Simulate evaluates the active rules of the workspace against its
transactions and reports, per matched transaction, the rules that match and
the actions that would apply. Nothing is written unless --apply is given.`,
	RunE: simulateFunc,
}

func init() {
	Cmd.Flags().StringSliceVarP(&ruleIDs, "rule", "r", nil, "Only test these rule ids")
	Cmd.Flags().StringSliceVarP(&transactionIDs, "transaction", "t", nil, "Only test these transaction ids")
	Cmd.Flags().BoolVar(&apply, "apply", false, "Apply the rules after the preview")
}

func simulateFunc(cmd *cobra.Command, args []string) error {
	return root.Run(func(c *container.Container) error {
		results, err := c.GetEngine().TestRules(cmd.Context(), root.SharedFlags.Workspace, ruleIDs, transactionIDs, apply)
		if err != nil {
			return err
		}
		return root.Render(cmd, c, results)
	})
}
