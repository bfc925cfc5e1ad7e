package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/history"
	"github.com/DerekVonk/vonkfi-sub000/internal/optimizer"
)

// NewStatsCommand creates the 'testpilot history stats' command
func NewStatsCommand() *cobra.Command {
	var top int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show suite-wide execution statistics",
		Long: `Display aggregate statistics over the execution history including:
  - Record counts and overall success rate
  - The slowest units by average duration
  - The flakiest units by outcome instability
  - Units with rising memory usage`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryStats(cmd, top, dbPath)
		},
	}

	cmd.Flags().IntVar(&top, "top", 5, "Number of units per ranking")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to history database (for testing)")

	return cmd
}

// runHistoryStats executes the history stats command
func runHistoryStats(cmd *cobra.Command, top int, dbPathOverride string) error {
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

	summary, err := store.Summary()
	if err != nil {
		return fmt.Errorf("get summary: %w", err)
	}
	if summary.Records == 0 {
		fmt.Fprintf(output, "No execution data recorded yet.\n")
		return nil
	}

	plan, err := optimizer.NewOptimizer(store).Analyze()
	if err != nil {
		return fmt.Errorf("analyze history: %w", err)
	}

	printHistoryStats(output, summary, plan.Metrics, top)

	return nil
}

// printHistoryStats formats and prints the aggregate statistics
func printHistoryStats(w io.Writer, summary history.Stats, metrics map[string]optimizer.UnitMetrics, top int) {
	// Colors
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	// Header
	cyan.Fprintf(w, "\n=== Execution Statistics ===\n\n")

	cyan.Fprintf(w, "Overall:\n")
	fmt.Fprintf(w, "  Records: %d across %d units\n", summary.Records, summary.Units)
	fmt.Fprintf(w, "  Success rate: ")
	successRate := summary.SuccessRate * 100
	if successRate >= 70 {
		green.Fprintf(w, "%.1f%%\n", successRate)
	} else if successRate >= 40 {
		yellow.Fprintf(w, "%.1f%%\n", successRate)
	} else {
		red.Fprintf(w, "%.1f%%\n", successRate)
	}
	fmt.Fprintf(w, "  Window: %s to %s\n", formatTimestamp(summary.Oldest), formatTimestamp(summary.Newest))

	ranked := make([]optimizer.UnitMetrics, 0, len(metrics))
	for _, m := range metrics {
		ranked = append(ranked, m)
	}

	// Slowest units by average duration
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AverageDuration != ranked[j].AverageDuration {
			return ranked[i].AverageDuration > ranked[j].AverageDuration
		}
		return ranked[i].Path < ranked[j].Path
	})
	if len(ranked) > 0 {
		fmt.Fprintf(w, "\n")
		cyan.Fprintf(w, "Slowest units:\n")
		for i, m := range ranked {
			if i >= top {
				break
			}
			fmt.Fprintf(w, "  %-44s avg %s, p95 %s (%d samples)\n",
				m.Path, formatEstimate(m.AverageDuration), formatEstimate(m.P95Duration), m.Samples)
		}
	}

	// Flakiest units by outcome instability
	flaky := make([]optimizer.UnitMetrics, 0, len(ranked))
	for _, m := range ranked {
		if m.Flakiness > 0 {
			flaky = append(flaky, m)
		}
	}
	sort.Slice(flaky, func(i, j int) bool {
		if flaky[i].Flakiness != flaky[j].Flakiness {
			return flaky[i].Flakiness > flaky[j].Flakiness
		}
		return flaky[i].Path < flaky[j].Path
	})
	if len(flaky) > 0 {
		fmt.Fprintf(w, "\n")
		cyan.Fprintf(w, "Flakiest units:\n")
		for i, m := range flaky {
			if i >= top {
				break
			}
			fmt.Fprintf(w, "  %-44s ", m.Path)
			yellow.Fprintf(w, "%.0f%% flaky", m.Flakiness*100)
			fmt.Fprintf(w, ", %.0f%% failures\n", m.FailureRate*100)
		}
	}

	// Units whose memory usage keeps growing
	var hungry []string
	for _, m := range ranked {
		if m.MemoryTrend == optimizer.TrendRising {
			hungry = append(hungry, m.Path)
		}
	}
	sort.Strings(hungry)
	if len(hungry) > 0 {
		fmt.Fprintf(w, "\n")
		cyan.Fprintf(w, "Rising memory usage:\n")
		for _, path := range hungry {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}

	fmt.Fprintln(w)
}
