package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for testpilot
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testpilot",
		Short: "Adaptive parallel test scheduler",
		Long: `Testpilot schedules a test suite across a bounded pool of workers.

It classifies test units by data-dependency risk, groups units that are
safe to run concurrently, governs shared resources (memory, CPU budget,
database connections, worker slots), and executes groups with health
monitoring, bounded retries, and failure recovery. Execution telemetry
feeds a history store that tunes future runs.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewAnalyzeCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
