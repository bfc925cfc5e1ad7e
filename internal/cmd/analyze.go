package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/config"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/optimizer"
)

// NewAnalyzeCommand creates the analyze command
func NewAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [suite-dir]",
		Short: "Classify and group a suite without executing it",
		Long: `Analyze the test units under a suite directory.

The analyze command runs the full planning pipeline (discovery,
classification, conflict graph, grouping) and prints the resulting
execution plan without running any tests. Use it to inspect how units
were classified, which units ended up grouped together, and what wall
time the plan projects.

Examples:
  # Analyze the current directory
  testpilot analyze

  # Show group membership and per-unit classification
  testpilot analyze tests/api --verbose

  # Preview an aggressive grouping without running it
  testpilot analyze --grouping aggressive --isolation adaptive`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .testpilot/config.yaml)")
	cmd.Flags().Int("max-workers", 0, "Number of worker slots assumed for projections")
	cmd.Flags().String("isolation", "", "Isolation strategy: conservative, balanced, aggressive, adaptive")
	cmd.Flags().String("grouping", "", "Grouping strategy: conservative, balanced, aggressive, performance")
	cmd.Flags().String("manifest", "", "Path to the suite manifest")
	cmd.Flags().Bool("optimize", false, "Apply historical optimization (overrides config)")
	cmd.Flags().Bool("no-optimize", false, "Do not apply historical optimization (overrides config)")
	cmd.Flags().Bool("verbose", false, "Show group membership and per-unit detail")

	return cmd
}

// runAnalyze implements the analyze command logic
func runAnalyze(cmd *cobra.Command, args []string) error {
	suiteDir := "."
	if len(args) == 1 {
		suiteDir = args[0]
	}
	suiteDir, err := filepath.Abs(suiteDir)
	if err != nil {
		return fmt.Errorf("failed to resolve suite directory: %w", err)
	}
	if info, err := os.Stat(suiteDir); err != nil || !info.IsDir() {
		return fmt.Errorf("suite directory not found: %s", suiteDir)
	}

	root := config.FindProjectRoot(suiteDir)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadMergedConfig(configPath, root)
	if err != nil {
		return err
	}
	if err := mergeCommonFlags(cmd, cfg); err != nil {
		return err
	}

	store, err := openHistory(cfg, root)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	sp, err := planSuite(cfg, root, suiteDir, store)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	return printPlan(cmd.OutOrStdout(), sp, cfg, verbose)
}

// printPlan renders the analysis result
func printPlan(w io.Writer, sp *suitePlan, cfg *config.Config, verbose bool) error {
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintf(w, "Suite Analysis: %s\n\n", sp.SuiteDir)

	for _, warning := range sp.Warnings {
		color.New(color.FgYellow).Fprintf(w, "Warning: %s\n", warning)
	}
	if len(sp.Warnings) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Units: %d\n", len(sp.Units))
	counts := countByLevel(sp.Units)
	for level := models.LevelNone; level <= models.LevelSequentialOnly; level++ {
		if counts[level] > 0 {
			fmt.Fprintf(w, "  %-16s %d\n", level.String(), counts[level])
		}
	}
	fmt.Fprintln(w)

	header.Fprintln(w, "Execution Plan")
	fmt.Fprintf(w, "Strategy: %s grouping, %s isolation, %d workers\n",
		cfg.GroupingStrategy, cfg.IsolationStrategy, cfg.MaxWorkers)
	fmt.Fprintf(w, "Groups: %d\n\n", len(sp.Groups))

	for _, group := range sp.Groups {
		unitWord := "units"
		if len(group.Units) == 1 {
			unitWord = "unit"
		}
		fmt.Fprintf(w, "  %-10s %-16s %d %s, parallelism %d, est %s",
			group.ID, group.Level.String(), len(group.Units), unitWord,
			group.MaxParallelism, formatEstimate(group.EstimatedDuration))
		if group.Priority != models.PriorityNormal {
			fmt.Fprintf(w, ", priority %s", group.Priority.String())
		}
		if group.RequiresIsolation {
			fmt.Fprintf(w, ", isolated")
		}
		fmt.Fprintln(w)

		if verbose {
			for _, unit := range group.Units {
				fmt.Fprintf(w, "    - %s (%s, %s)\n",
					unit.Path, unit.Level.String(), formatEstimate(unit.EstimatedDuration))
			}
		}
	}
	fmt.Fprintln(w)

	serial := serialEstimate(sp.Groups)
	projected, err := projectWallTime(sp, cfg.MaxWorkers)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Serial estimate:    %s\n", formatEstimate(serial))
	fmt.Fprintf(w, "Projected wall:     %s\n", formatEstimate(projected))
	if projected > 0 && serial > projected {
		fmt.Fprintf(w, "Projected speedup:  %.1fx\n", float64(serial)/float64(projected))
	}

	if sp.Plan != nil {
		fmt.Fprintln(w)
		printOptimizationPlan(w, sp.Plan, verbose)
	}

	return nil
}

// printOptimizationPlan renders the historical optimization section
func printOptimizationPlan(w io.Writer, plan *optimizer.Plan, verbose bool) {
	header := color.New(color.FgCyan, color.Bold)
	header.Fprintln(w, "Historical Optimization")

	fmt.Fprintf(w, "Applied: %d, withheld: %d, projected saving: %s\n",
		len(plan.Applied), len(plan.Withheld), formatEstimate(plan.EstimatedSavings()))

	if verbose {
		for _, applied := range plan.Applied {
			fmt.Fprintf(w, "  + %s: %s (%.1fx speedup, %.0f%% confidence)\n",
				applied.Path, applied.Strategy, applied.EstimatedSpeedup, applied.Confidence*100)
		}
		for _, withheld := range plan.Withheld {
			fmt.Fprintf(w, "  - %s: %s withheld (%.0f%% confidence)\n",
				withheld.Path, withheld.Strategy, withheld.Confidence*100)
		}
	}

	fmt.Fprintf(w, "Risk: stability %s, performance %s, reliability %s\n",
		colorizeRisk(plan.Risk.Stability), colorizeRisk(plan.Risk.Performance),
		colorizeRisk(plan.Risk.Reliability))
	for _, note := range plan.Risk.Notes {
		fmt.Fprintf(w, "  %s\n", note)
	}
}

// colorizeRisk colors a risk level green, yellow, or red.
func colorizeRisk(level optimizer.RiskLevel) string {
	switch level {
	case optimizer.RiskHigh:
		return color.New(color.FgRed).Sprint(string(level))
	case optimizer.RiskMedium:
		return color.New(color.FgYellow).Sprint(string(level))
	default:
		return color.New(color.FgGreen).Sprint(string(level))
	}
}

// countByLevel tallies units per dependency level in level order.
func countByLevel(units []*models.UnitAnalysis) map[models.DependencyLevel]int {
	counts := make(map[models.DependencyLevel]int)
	for _, unit := range units {
		counts[unit.Level]++
	}
	return counts
}

// serialEstimate is the wall time if every group ran alone, one at a time.
func serialEstimate(groups []*models.TestGroup) time.Duration {
	var total time.Duration
	for _, group := range groups {
		total += group.EstimatedDuration
	}
	return total
}

// projectWallTime estimates the schedule makespan. Groups in the same
// prerequisite tier run side by side across workers; tiers run in order.
// Per tier the bound is the larger of the longest group and the even
// split of the tier's total work.
func projectWallTime(sp *suitePlan, workers int) (time.Duration, error) {
	if workers < 1 {
		workers = 1
	}
	tierIndex, err := sp.Graph.TierIndex()
	if err != nil {
		return 0, fmt.Errorf("failed to tier the dependency graph: %w", err)
	}

	type tierLoad struct {
		longest time.Duration
		total   time.Duration
	}
	tiers := make(map[int]*tierLoad)

	for _, group := range sp.Groups {
		tier := 0
		for _, unit := range group.Units {
			if t := tierIndex[unit.Path]; t > tier {
				tier = t
			}
		}

		wall := groupWallTime(group)
		load, ok := tiers[tier]
		if !ok {
			load = &tierLoad{}
			tiers[tier] = load
		}
		if wall > load.longest {
			load.longest = wall
		}
		load.total += wall
	}

	order := make([]int, 0, len(tiers))
	for tier := range tiers {
		order = append(order, tier)
	}
	sort.Ints(order)

	var projected time.Duration
	for _, tier := range order {
		load := tiers[tier]
		wall := load.total / time.Duration(workers)
		if load.longest > wall {
			wall = load.longest
		}
		projected += wall
	}
	return projected, nil
}

// groupWallTime divides the group's work across its internal parallelism.
func groupWallTime(group *models.TestGroup) time.Duration {
	width := group.MaxParallelism
	if width < 1 {
		width = 1
	}
	if len(group.Units) > 0 && len(group.Units) < width {
		width = len(group.Units)
	}
	return group.EstimatedDuration / time.Duration(width)
}

// formatEstimate renders a duration with a single decimal for readability.
func formatEstimate(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
