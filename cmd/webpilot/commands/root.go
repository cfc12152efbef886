package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configSources []string
	driverSpec    string
	verbose       bool
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "webpilot",
		Short: "WebPilot - DSL-driven UI workflow execution engine",
		Long: `WebPilot interprets YAML workflow documents (Workflow > Phase > Step)
against a remote UI-automation backend, enforcing per-step timeouts,
candidate-selector fairness, and strict/recover phase policy.

Features:
  - Typed runner config via CUE
  - Fair timeout budgeting across alternative selectors
  - Optional steps, fail-fast, and phase success policies
  - Policy admission via OPA before every run
  - Run history in SQLite and artifact publishing (local/SFTP)
  - In-process simulator and a TCP/stdio remote driver protocol`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringSliceVarP(&configSources, "config", "c", nil, "CUE config file or directory (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&driverSpec, "driver", "d", "", "driver spec override (sim, tcp://host:port, stdio:<command>)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newExecCommand(version))
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
