// Package cli wires the cadence commands.
package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/config"
)

var (
	cfgFile string
	dbPath  string
	verbose bool

	// version is set at build time with -ldflags "-X github.com/watzon/cadence/internal/cli.version=...".
	version = "0.1.0-dev"

	appConfig *config.Config
	logCloser func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Recurring tasks for AI assistants",
	Long: `Cadence keeps recurring tasks on schedule and exposes them to AI assistants
as MCP tools over stdio.

A recurring task is a series: a template holding the recurrence rule and
one open occurrence at a time. Completing, skipping or trashing the open
occurrence creates the next one.

Start the tool server:
  cadence serve

Try out a rule:
  cadence preview rule.yaml --from 2025-01-31 -n 6`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		appConfig = cfg

		closer, err := setupLogging(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logCloser = closer

		if cfgFile != "" {
			log.Debug().Str("file", cfgFile).Msg("Using config file")
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cadence.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("cadence version %s", version)
}
