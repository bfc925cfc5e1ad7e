package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/classifier"
	"github.com/DerekVonk/vonkfi-sub000/internal/config"
	"github.com/DerekVonk/vonkfi-sub000/internal/depgraph"
	"github.com/DerekVonk/vonkfi-sub000/internal/fileutil"
	"github.com/DerekVonk/vonkfi-sub000/internal/grouping"
	"github.com/DerekVonk/vonkfi-sub000/internal/history"
	"github.com/DerekVonk/vonkfi-sub000/internal/manifest"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/optimizer"
	"github.com/DerekVonk/vonkfi-sub000/internal/scheduler"
)

// suitePlan is the classified and grouped view of one suite directory,
// shared by the run and analyze commands.
type suitePlan struct {
	SuiteDir   string
	Root       string
	Classifier *classifier.Classifier
	Units      []*models.UnitAnalysis
	Groups     []*models.TestGroup
	Strategy   grouping.Strategy
	Graph      *depgraph.Graph
	Plan       *optimizer.Plan // nil when historical optimization is off
	Warnings   []string
}

// loadMergedConfig loads configuration for a command invocation: an explicit
// --config path when given, otherwise .testpilot/config.yaml discovered at
// the project root.
func loadMergedConfig(configPath, root string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// mergeCommonFlags applies the flags both run and analyze expose on top of
// the loaded configuration. Only flags the user actually set override.
func mergeCommonFlags(cmd *cobra.Command, cfg *config.Config) error {
	var maxWorkersPtr *int
	if cmd.Flags().Changed("max-workers") {
		v, _ := cmd.Flags().GetInt("max-workers")
		maxWorkersPtr = &v
	}

	var isolationPtr *string
	if cmd.Flags().Changed("isolation") {
		v, _ := cmd.Flags().GetString("isolation")
		isolationPtr = &v
	}

	var groupingPtr *string
	if cmd.Flags().Changed("grouping") {
		v, _ := cmd.Flags().GetString("grouping")
		groupingPtr = &v
	}

	var outputDirPtr *string
	if cmd.Flags().Changed("output-dir") {
		v, _ := cmd.Flags().GetString("output-dir")
		outputDirPtr = &v
	}

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &v
	}

	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &v
	}

	var unitTimeoutPtr *time.Duration
	if cmd.Flags().Changed("unit-timeout") {
		raw, _ := cmd.Flags().GetString("unit-timeout")
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid unit-timeout format %q: %w", raw, err)
		}
		unitTimeoutPtr = &timeout
	}

	var manifestPtr *string
	if cmd.Flags().Changed("manifest") {
		v, _ := cmd.Flags().GetString("manifest")
		manifestPtr = &v
	}

	if cmd.Flags().Changed("watch") && cmd.Flags().Changed("no-watch") {
		return fmt.Errorf("cannot use both --watch and --no-watch")
	}
	var watchPtr *bool
	if cmd.Flags().Changed("watch") {
		v, _ := cmd.Flags().GetBool("watch")
		watchPtr = &v
	} else if cmd.Flags().Changed("no-watch") {
		v, _ := cmd.Flags().GetBool("no-watch")
		off := !v
		watchPtr = &off
	}

	if cmd.Flags().Changed("optimize") && cmd.Flags().Changed("no-optimize") {
		return fmt.Errorf("cannot use both --optimize and --no-optimize")
	}
	var optimizePtr *bool
	if cmd.Flags().Changed("optimize") {
		v, _ := cmd.Flags().GetBool("optimize")
		optimizePtr = &v
	} else if cmd.Flags().Changed("no-optimize") {
		v, _ := cmd.Flags().GetBool("no-optimize")
		off := !v
		optimizePtr = &off
	}

	cfg.MergeWithFlags(maxWorkersPtr, isolationPtr, groupingPtr,
		outputDirPtr, logLevelPtr, logDirPtr, unitTimeoutPtr, manifestPtr,
		watchPtr, optimizePtr)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// planSuite classifies a suite directory and builds the group schedule.
// store may be nil when history is disabled; it supplies historical
// durations and, when optimization is on, feeds the optimizer whose
// projections take precedence.
func planSuite(cfg *config.Config, root, suiteDir string, store *history.Store) (*suitePlan, error) {
	scan, err := fileutil.DiscoverUnits(suiteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", suiteDir, err)
	}
	if len(scan.Files) == 0 {
		return nil, fmt.Errorf("no test units found under %s", suiteDir)
	}

	sp := &suitePlan{SuiteDir: suiteDir, Root: root}
	for _, scanErr := range scan.Errors {
		sp.Warnings = append(sp.Warnings, fmt.Sprintf("scan: %v", scanErr))
	}

	// Duration source preference: optimizer projections, then raw history,
	// then the classifier's own heuristics.
	var durations classifier.DurationSource
	if store != nil {
		durations = store
		if cfg.EnableHistoricalOptimization {
			plan, err := optimizer.NewOptimizer(store).Analyze()
			if err != nil {
				sp.Warnings = append(sp.Warnings, fmt.Sprintf("optimization skipped: %v", err))
			} else {
				sp.Plan = plan
				durations = plan
			}
		}
	}

	if durations != nil {
		sp.Classifier = classifier.NewClassifierWithHistory(durations)
	} else {
		sp.Classifier = classifier.NewClassifier()
	}
	sp.Units = sp.Classifier.AnalyzeAll(suiteDir, scan.Files)

	if manifestPath := cfg.ResolvedManifestPath(root); manifestPath != "" {
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		classifier.ApplyManifest(sp.Units, m)
	}

	if err := depgraph.ValidateUnits(sp.Units); err != nil {
		return nil, fmt.Errorf("invalid unit metadata: %w", err)
	}
	sp.Graph = depgraph.Build(sp.Units)
	if sp.Graph.HasCycle() {
		return nil, fmt.Errorf("prerequisite cycle detected in %s", suiteDir)
	}

	strategy, err := grouping.StrategyByName(cfg.GroupingStrategy)
	if err != nil {
		return nil, err
	}
	strategy, err = grouping.ApplyIsolationMode(strategy, cfg.IsolationStrategy, sp.Units)
	if err != nil {
		return nil, err
	}
	sp.Strategy = strategy

	sp.Groups = grouping.NewEngine(strategy).BuildGroups(sp.Units, sp.Graph)
	if err := grouping.ValidateGroups(sp.Groups, sp.Graph); err != nil {
		return nil, fmt.Errorf("grouping produced an unsafe schedule: %w", err)
	}
	scheduler.SortGroups(sp.Groups)

	return sp, nil
}

// openHistory opens the history store when enabled. A nil store with a nil
// error means history is turned off.
func openHistory(cfg *config.Config, root string) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}

	dbPath, err := cfg.HistoryDBPath(root)
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return store, nil
}
