// Package settings shows and changes the automation settings of a
// workspace.
package settings

import (
	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/models"

	"github.com/spf13/cobra"
)

var (
	learning      bool
	categories    bool
	beneficiaries bool
)

// Cmd represents the settings command
var Cmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the auto-learning settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			s, err := c.GetSettingsGate().Get(cmd.Context(), root.SharedFlags.Workspace)
			if err != nil {
				return err
			}
			return root.Render(cmd, c, s)
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the auto-learning switches",
	Long: `Set changes only the switches given on the command line, e.g.
  txrules settings set --learning=false
  txrules settings set --categories=true --beneficiaries=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		return update(cmd, func(s *models.Settings) {
			if flags.Changed("learning") {
				s.AutoLearningEnabled = learning
			}
			if flags.Changed("categories") {
				s.AutoCreateCategoryRules = categories
			}
			if flags.Changed("beneficiaries") {
				s.AutoCreateBeneficiaryRules = beneficiaries
			}
		})
	},
}

var excludeCmd = &cobra.Command{
	Use:   "exclude <beneficiary-id>",
	Short: "Stop learning rules from a beneficiary's transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			s, err := c.GetSettingsGate().ExcludeBeneficiary(cmd.Context(), root.SharedFlags.Workspace, args[0])
			if err != nil {
				return err
			}
			return root.Render(cmd, c, s)
		})
	},
}

var includeCmd = &cobra.Command{
	Use:   "include <beneficiary-id>",
	Short: "Resume learning rules from a beneficiary's transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			s, err := c.GetSettingsGate().IncludeBeneficiary(cmd.Context(), root.SharedFlags.Workspace, args[0])
			if err != nil {
				return err
			}
			return root.Render(cmd, c, s)
		})
	},
}

func init() {
	setCmd.Flags().BoolVar(&learning, "learning", true, "Enable auto-learning")
	setCmd.Flags().BoolVar(&categories, "categories", true, "Learn category rules")
	setCmd.Flags().BoolVar(&beneficiaries, "beneficiaries", true, "Learn beneficiary rules")

	Cmd.AddCommand(setCmd, excludeCmd, includeCmd)
}

func update(cmd *cobra.Command, fn func(*models.Settings)) error {
	return root.Run(func(c *container.Container) error {
		s, err := c.GetSettingsGate().Update(cmd.Context(), root.SharedFlags.Workspace, fn)
		if err != nil {
			return err
		}
		return root.Render(cmd, c, s)
	})
}
