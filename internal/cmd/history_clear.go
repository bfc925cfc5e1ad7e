package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/history"
)

// newClearCommand creates the 'testpilot history clear' command
func newClearCommand() *cobra.Command {
	var clearAll bool
	var keepDays int
	var maxRecords int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete execution history",
		Long: `Delete execution history, either everything or by retention policy.

Examples:
  # Drop records older than 30 days
  testpilot history clear --keep-days 30

  # Keep at most 100 records per unit
  testpilot history clear --max-records 100

  # Clear the whole store (requires confirmation)
  testpilot history clear --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("clear takes no arguments")
			}
			clearAll, _ := cmd.Flags().GetBool("all")
			keepDays, _ := cmd.Flags().GetInt("keep-days")
			maxRecords, _ := cmd.Flags().GetInt("max-records")
			if clearAll && (keepDays > 0 || maxRecords > 0) {
				return fmt.Errorf("cannot combine --all with --keep-days or --max-records")
			}
			if !clearAll && keepDays <= 0 && maxRecords <= 0 {
				return fmt.Errorf("requires --all or a retention policy (--keep-days, --max-records)")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryClear(cmd, clearAll, keepDays, maxRecords, dbPath)
		},
	}

	cmd.Flags().BoolVar(&clearAll, "all", false, "Clear the entire store")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "Drop records older than this many days")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "Keep at most this many records per unit")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to history database (for testing)")

	return cmd
}

// runHistoryClear executes the history clear command
func runHistoryClear(cmd *cobra.Command, clearAll bool, keepDays, maxRecords int, dbPathOverride string) error {
	output := cmd.OutOrStdout()

	dbPath, err := resolveHistoryDBPath(dbPathOverride)
	if err != nil {
		return err
	}

	// Check if database exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(output, "No history database found at: %s\n", dbPath)
		return nil
	}

	if clearAll {
		fmt.Fprintf(output, "WARNING: This will delete ALL execution history.\n")
		if !confirmAction(output) {
			fmt.Fprintf(output, "Operation cancelled.\n")
			return nil
		}
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	var deletedCount int64
	if clearAll {
		summary, err := store.Summary()
		if err != nil {
			return fmt.Errorf("get summary: %w", err)
		}
		if err := store.Clear(ctx); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		deletedCount = summary.Records
	} else {
		deletedCount, err = store.Prune(ctx, keepDays, maxRecords)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}

	// Report results
	recordText := "record"
	if deletedCount != 1 {
		recordText = "records"
	}
	fmt.Fprintf(output, "Deleted %d %s.\n", deletedCount, recordText)

	return nil
}

// confirmAction prompts the user for confirmation on stdin
func confirmAction(output io.Writer) bool {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Fprintf(output, "Continue? [y/N]: ")

	if !scanner.Scan() {
		return false
	}

	response := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return response == "y" || response == "yes"
}
