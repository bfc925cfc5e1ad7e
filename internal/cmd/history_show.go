package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/history"
)

// NewShowCommand creates the 'testpilot history show' command
func NewShowCommand() *cobra.Command {
	var limit int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "show <unit-path>",
		Short: "Show execution history for a test unit",
		Long: `Display recorded executions for a specific test unit including:
  - Pass/fail verdicts and durations
  - Timestamps and run identifiers
  - Resource usage per execution
  - Success rate and average duration`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, args[0], limit, dbPath)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of attempts to show")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to history database (for testing)")

	return cmd
}

// runHistoryShow executes the history show command
func runHistoryShow(cmd *cobra.Command, unitPath string, limit int, dbPathOverride string) error {
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

	store, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	records, err := store.Executions(unitPath, limit)
	if err != nil {
		return fmt.Errorf("get execution history: %w", err)
	}

	if len(records) == 0 {
		fmt.Fprintf(output, "No execution history found for %s\n", unitPath)
		return nil
	}

	printExecutionHistory(output, unitPath, records)

	return nil
}

// printExecutionHistory formats and prints the executions for a unit
func printExecutionHistory(w io.Writer, unitPath string, records []history.Record) {
	// Colors
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	// Header
	cyan.Fprintf(w, "\n=== Execution History for %s ===\n\n", unitPath)
	fmt.Fprintf(w, "Total attempts: %d\n\n", len(records))

	// Records arrive most recent first
	for i, record := range records {
		attemptNum := len(records) - i
		cyan.Fprintf(w, "Attempt #%d\n", attemptNum)

		fmt.Fprintf(w, "  Time: %s ", formatTimestamp(record.StartedAt))
		gray.Fprintf(w, "(%s ago)\n", formatAge(time.Since(record.StartedAt)))

		fmt.Fprintf(w, "  Verdict: ")
		if record.Success {
			green.Fprintf(w, "PASSED\n")
		} else {
			red.Fprintf(w, "FAILED\n")
		}

		fmt.Fprintf(w, "  Duration: %s\n", formatEstimate(record.Duration()))
		fmt.Fprintf(w, "  Run: %s ", record.RunID)
		gray.Fprintf(w, "(%d workers, %s isolation)\n", record.WorkerCount, record.IsolationLevel)

		if record.MemoryMB > 0 || record.DBConnections > 0 {
			fmt.Fprintf(w, "  Usage: %dMB memory, %d DB connections\n",
				record.MemoryMB, record.DBConnections)
		}

		// Separator between attempts
		if i < len(records)-1 {
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w)

	// Summary statistics
	successCount := 0
	var totalDuration time.Duration
	for _, record := range records {
		if record.Success {
			successCount++
		}
		totalDuration += record.Duration()
	}

	cyan.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  Success rate: ")
	successRate := float64(successCount) / float64(len(records)) * 100
	if successRate >= 70 {
		green.Fprintf(w, "%.1f%%", successRate)
	} else if successRate >= 40 {
		yellow.Fprintf(w, "%.1f%%", successRate)
	} else {
		red.Fprintf(w, "%.1f%%", successRate)
	}
	fmt.Fprintf(w, " (%d/%d)\n", successCount, len(records))

	avgDuration := totalDuration / time.Duration(len(records))
	fmt.Fprintf(w, "  Average duration: %s\n", formatEstimate(avgDuration))

	fmt.Fprintln(w)
}

// formatTimestamp formats a timestamp for display
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatAge formats an elapsed duration for human-readable display
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
