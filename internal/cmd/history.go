package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/config"
)

// NewHistoryCommand creates the 'testpilot history' parent command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Execution history commands",
		Long: `Commands for viewing and managing execution history.

The history store records every unit execution and feeds duration
estimates and optimization decisions on later runs.`,
	}

	// Add subcommands
	cmd.AddCommand(NewShowCommand())
	cmd.AddCommand(NewStatsCommand())
	cmd.AddCommand(newClearCommand())

	return cmd
}

// resolveHistoryDBPath returns the history database path, honoring the
// --db-path override used by tests.
func resolveHistoryDBPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	root := config.FindProjectRoot(cwd)

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.HistoryDBPath(root)
}
