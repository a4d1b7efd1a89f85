// Package root contains the root command for the application
package root

import (
	"fmt"

	"fjacquet/txrules/internal/config"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/report"
	"fjacquet/txrules/internal/validation"

	"github.com/spf13/cobra"
)

// DefaultWorkspace is used when neither --workspace nor TXRULES_WORKSPACE
// is set.
const DefaultWorkspace = "default"

// CommonFlags represents the flags that are common to multiple commands
type CommonFlags struct {
	Workspace string
	Database  string
	LogLevel  string
	Format    string
}

var (
	// Log is the shared logger instance for commands
	Log logging.Logger = logging.NewLogrusAdapter("info", "text")

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "txrules",
		Short: "Automation rules for financial transactions.",
		Long: `txrules manages automation rules that categorize, tag and annotate
financial transactions, applies them in PRE, DEFAULT and POST stages and
learns new rules from manual corrections.`,
		Run: func(cmd *cobra.Command, args []string) {
			Log.Info("Welcome to txrules!")
			Log.Info("Use --help to see available commands")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.IsValidOutputFormat(SharedFlags.Format); err != nil {
				return err
			}
			if SharedFlags.Workspace == "" {
				return fmt.Errorf("workspace cannot be empty")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Common flags accessible to all commands
	SharedFlags = CommonFlags{}

	// NewContainer builds the dependencies of one command run. Tests
	// replace it to run commands against an in-memory repository.
	NewContainer = defaultContainer
)

// Init initializes the root command and all flags
func Init() {
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Workspace, "workspace", "w",
		config.GetEnv("TXRULES_WORKSPACE", DefaultWorkspace), "Workspace the command operates on")
	Cmd.PersistentFlags().StringVar(&SharedFlags.Database, "db", "", "SQLite database path (overrides database.path)")
	Cmd.PersistentFlags().StringVar(&SharedFlags.LogLevel, "log-level", "", "Log level (overrides log.level)")
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Format, "format", "f", report.FormatText, "Output format: text or json")
}

func defaultContainer() (*container.Container, error) {
	cfg, err := config.InitializeConfig()
	if err != nil {
		return nil, err
	}
	if SharedFlags.Database != "" {
		cfg.Database.Path = SharedFlags.Database
	}
	if SharedFlags.LogLevel != "" {
		cfg.Log.Level = SharedFlags.LogLevel
	}
	c, err := container.NewContainer(cfg)
	if err != nil {
		return nil, err
	}
	Log = c.GetLogger()
	return c, nil
}

// Run builds the container, hands it to fn and closes it afterwards.
func Run(fn func(c *container.Container) error) error {
	c, err := NewContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			Log.WithError(err).Warn("Failed to close container")
		}
	}()
	return fn(c)
}

// Render writes v to the command output in the selected format.
func Render(cmd *cobra.Command, c *container.Container, v interface{}) error {
	return c.GetReportGenerator().Write(cmd.OutOrStdout(), v, SharedFlags.Format)
}
