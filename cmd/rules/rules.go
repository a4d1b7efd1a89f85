// Package rules manages the automation rules of a workspace.
package rules

import (
	"fmt"
	"io"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/authoring"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/report"
	"fjacquet/txrules/internal/store"
	"fjacquet/txrules/internal/validation"

	"github.com/spf13/cobra"
)

var (
	owner    string
	logLimit int
	activate bool
)

// Cmd represents the rules command
var Cmd = &cobra.Command{
	Use:   "rules",
	Short: "List, import, export and manage rules",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules of the workspace in execution order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			rules, err := c.GetRepository().ListRules(cmd.Context(), root.SharedFlags.Workspace)
			if err != nil {
				return err
			}
			return root.Render(cmd, c, inExecutionOrder(rules))
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <rules.yaml>",
	Short: "Create or update rules from a YAML rule file",
	Long: `Import reads a YAML rule file and creates every rule it lists. A rule
with the same name, stage and type as an existing one replaces its
definition. Invalid rules are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := store.LoadRuleFile(args[0])
		if err != nil {
			return err
		}
		return root.Run(func(c *container.Container) error {
			summary, err := c.GetAuthoring().Import(cmd.Context(), root.SharedFlags.Workspace, owner, docs)
			if rerr := renderSummary(cmd, c, summary); rerr != nil {
				return rerr
			}
			return err
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [rules.yaml]",
	Short: "Write the rules of the workspace as a YAML rule file",
	Long:  `Export writes every rule of the workspace to the given file, or to standard output.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			docs, err := c.GetAuthoring().Export(cmd.Context(), root.SharedFlags.Workspace)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := store.WriteRuleFile(args[0], docs); err != nil {
					return err
				}
				root.Log.Info("Rules exported",
					logging.F(logging.FieldOutputFile, args[0]),
					logging.F(logging.FieldCount, len(docs)))
				return nil
			}
			data, err := store.MarshalRuleFile(docs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <rule-id>",
	Short: "Activate or deactivate a rule",
	Long:  `Toggle flips the active flag of a rule, or sets it with --active=true|false.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			svc := c.GetAuthoring()
			var res authoring.Result
			var err error
			if cmd.Flags().Changed("active") {
				res, err = svc.SetActive(cmd.Context(), root.SharedFlags.Workspace, args[0], activate)
			} else {
				res, err = svc.Toggle(cmd.Context(), root.SharedFlags.Workspace, args[0])
			}
			if err != nil {
				return err
			}
			return root.Render(cmd, c, []models.Rule{*res.Rule})
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule and its application log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			return c.GetAuthoring().Delete(cmd.Context(), root.SharedFlags.Workspace, args[0])
		})
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [rule-id]",
	Short: "Show the application log of a rule or of the workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(c *container.Container) error {
			ws := root.SharedFlags.Workspace
			var logs []models.ApplicationLog
			var err error
			if len(args) == 1 {
				logs, err = c.GetRecorder().ForRule(cmd.Context(), ws, args[0])
			} else {
				logs, err = c.GetRecorder().ForWorkspace(cmd.Context(), ws, logLimit)
			}
			if err != nil {
				return err
			}
			return root.Render(cmd, c, logs)
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <rules.yaml>",
	Short: "Check a rule file without importing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := store.LoadRuleFile(args[0])
		if err != nil {
			return err
		}
		failed := 0
		for i, doc := range docs {
			r := doc.Rule(root.SharedFlags.Workspace)
			if err := validation.ValidateRule(&r); err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "rule %d (%s): %v\n", i+1, doc.Name, err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d rules are invalid", failed, len(docs))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules are valid\n", len(docs))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&owner, "owner", "", "Owner recorded on created rules")
	toggleCmd.Flags().BoolVar(&activate, "active", false, "Set the active flag instead of flipping it")
	logsCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "Maximum number of workspace entries")

	Cmd.AddCommand(listCmd, importCmd, exportCmd, toggleCmd, deleteCmd, logsCmd, validateCmd)
}

// inExecutionOrder groups rules by stage, each stage sorted by priority
// then name.
func inExecutionOrder(rules []models.Rule) []models.Rule {
	out := make([]models.Rule, 0, len(rules))
	for _, stage := range models.Stages {
		var staged []models.Rule
		for _, r := range rules {
			if r.Stage == stage {
				staged = append(staged, r)
			}
		}
		models.SortRules(staged)
		out = append(out, staged...)
	}
	return out
}

func renderSummary(cmd *cobra.Command, c *container.Container, s authoring.ImportSummary) error {
	if root.SharedFlags.Format == report.FormatJSON {
		return root.Render(cmd, c, s)
	}
	return writeSummary(cmd.OutOrStdout(), s)
}

func writeSummary(w io.Writer, s authoring.ImportSummary) error {
	if _, err := fmt.Fprintf(w, "created: %d, updated: %d, failed: %d\n", s.Created, s.Updated, s.Failed); err != nil {
		return err
	}
	for _, warn := range s.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s: %s\n", warn.RuleName, warn.Message); err != nil {
			return err
		}
	}
	return nil
}
