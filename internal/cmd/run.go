package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DerekVonk/vonkfi-sub000/internal/classifier"
	"github.com/DerekVonk/vonkfi-sub000/internal/config"
	"github.com/DerekVonk/vonkfi-sub000/internal/dblease"
	"github.com/DerekVonk/vonkfi-sub000/internal/events"
	"github.com/DerekVonk/vonkfi-sub000/internal/fileutil"
	"github.com/DerekVonk/vonkfi-sub000/internal/history"
	"github.com/DerekVonk/vonkfi-sub000/internal/logger"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/report"
	"github.com/DerekVonk/vonkfi-sub000/internal/resource"
	"github.com/DerekVonk/vonkfi-sub000/internal/scheduler"
)

// testDBEnv names the environment variable carrying the test database path.
// When set, transaction-isolated units run bracketed by a leased connection.
const testDBEnv = "TESTPILOT_TEST_DB"

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [suite-dir]",
		Short: "Execute a test suite with adaptive scheduling",
		Long: `Execute the test units under a suite directory.

The run command discovers test units, classifies each by data-dependency
risk, groups units that are safe to run concurrently, and executes the
groups across a bounded worker pool under resource admission control.
Results, metrics, and a human-readable summary are written to the output
directory; execution records are appended to the history store.

Configuration is loaded from .testpilot/config.yaml at the project root
if present. CLI flags override configuration file settings.

Examples:
  # Run all units under the current directory
  testpilot run

  # Run a specific suite with eight workers
  testpilot run tests/api --max-workers 8

  # Force strict isolation and verbose progress
  testpilot run --isolation conservative --verbose

  # Re-run automatically when unit sources change
  testpilot run --watch

  # Use a custom unit command ({path} is replaced per unit)
  testpilot run --command "npx jest {path}"`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .testpilot/config.yaml)")
	cmd.Flags().Int("max-workers", 0, "Number of worker slots (overrides config)")
	cmd.Flags().String("isolation", "", "Isolation strategy: conservative, balanced, aggressive, adaptive")
	cmd.Flags().String("grouping", "", "Grouping strategy: conservative, balanced, aggressive, performance")
	cmd.Flags().String("output-dir", "", "Directory for run artifacts")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("unit-timeout", "", "Per-unit execution timeout (e.g. 90s, 5m)")
	cmd.Flags().String("manifest", "", "Path to the suite manifest")
	cmd.Flags().String("command", "npx vitest run {path}", "Shell command template per unit")
	cmd.Flags().Bool("watch", false, "Re-run when unit sources change")
	cmd.Flags().Bool("no-watch", false, "Do not watch for changes (overrides config)")
	cmd.Flags().Bool("optimize", false, "Apply historical optimization (overrides config)")
	cmd.Flags().Bool("no-optimize", false, "Do not apply historical optimization (overrides config)")
	cmd.Flags().Bool("verbose", false, "Show per-unit progress")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
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

	// Verbose flag drops the console to debug so unit lines show
	logLevel := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logLevel = "debug"
	}

	consoleLog := logger.NewConsoleLogger(os.Stdout, logLevel)

	logDir, err := cfg.ResolvedLogDir(root)
	if err != nil {
		return err
	}
	fileLog, err := logger.NewFileLoggerWithLevel(logDir, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := &multiLogger{loggers: []runLogger{consoleLog, fileLog}}

	store, err := openHistory(cfg, root)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	unitCommand, _ := cmd.Flags().GetString("command")
	runner, cleanup, err := buildRunner(unitCommand, suiteDir, cfg, multiLog)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Watch {
		return executeRun(ctx, cmd, cfg, root, suiteDir, store, runner, consoleLog, multiLog)
	}

	// Watch mode: run, then wait for source changes and run again. The
	// classifier is rebuilt per pass, so invalidation only has to wake the
	// loop; reclassification picks up the edits.
	watcher, err := classifier.NewWatcher(suiteDir, invalidatorFunc(func(string) {}), fileutil.IsUnitPath)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", suiteDir, err)
	}
	defer watcher.Close()

	for {
		if err := executeRun(ctx, cmd, cfg, root, suiteDir, store, runner, consoleLog, multiLog); err != nil {
			multiLog.LogWarn(err.Error())
		}
		if ctx.Err() != nil {
			return nil
		}

		consoleLog.LogInfo("Watching for changes (Ctrl-C to exit)")
		if !waitForChange(ctx, watcher) {
			return nil
		}
		consoleLog.LogInfo("Change detected, re-running suite")
	}
}

// invalidatorFunc adapts a function to the watcher's invalidation target.
type invalidatorFunc func(path string)

func (f invalidatorFunc) Invalidate(path string) { f(path) }

// waitForChange blocks until the watcher reports an invalidation or the
// context ends. Returns false when interrupted.
func waitForChange(ctx context.Context, watcher *classifier.Watcher) bool {
	seen := watcher.Invalidations()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if watcher.Invalidations() > seen {
				return true
			}
		}
	}
}

// executeRun performs one full scheduling pass: plan, execute, record, report.
func executeRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, root, suiteDir string,
	store *history.Store, runner scheduler.UnitRunner, consoleLog *logger.ConsoleLogger, multiLog *multiLogger) error {

	startedAt := time.Now()

	sp, err := planSuite(cfg, root, suiteDir, store)
	if err != nil {
		return err
	}
	for _, warning := range sp.Warnings {
		multiLog.LogWarn(warning)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Suite: %s\n", suiteDir)
	fmt.Fprintf(out, "  Units: %d in %d groups (%s grouping, %s isolation)\n",
		len(sp.Units), len(sp.Groups), cfg.GroupingStrategy, cfg.IsolationStrategy)
	fmt.Fprintf(out, "  Workers: %d\n", cfg.MaxWorkers)
	if sp.Plan != nil && len(sp.Plan.Applied) > 0 {
		fmt.Fprintf(out, "  Optimizations applied: %d (projected saving %s)\n",
			len(sp.Plan.Applied), sp.Plan.EstimatedSavings().Round(time.Second))
	}
	fmt.Fprintf(out, "\n")

	bus := events.NewBus()
	defer bus.Close()
	stopForwarding := forwardEvents(bus, multiLog)
	defer stopForwarding()

	governor := buildGovernor(cfg, bus, multiLog)

	multiLog.beginProgress(consoleLog, len(sp.Groups))
	defer multiLog.endProgress()

	sched := scheduler.NewSchedulerWithConfig(schedulerConfig(cfg), governor, runner, multiLog, bus)

	result, runErr := sched.Run(ctx, sp.Groups)

	if result != nil {
		if store != nil {
			recordRun(ctx, store, cfg, result, startedAt, multiLog)
		}

		outDir := cfg.ResolvedOutputDir(root)
		writer := report.NewWriter(outDir)
		if err := writer.Write(report.RunReport{
			Result:     result,
			Pools:      governor.Snapshots(),
			Plan:       sp.Plan,
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Workers:    cfg.MaxWorkers,
		}); err != nil {
			multiLog.LogWarn(fmt.Sprintf("failed to write run report: %v", err))
		} else {
			fmt.Fprintf(out, "\nResults written to: %s\n", outDir)
		}
	}

	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d unit(s) failed", result.Failed)
	}
	return nil
}

// buildRunner assembles the unit runner: the shell runner, wrapped with
// database lease bracketing when a test database is configured.
func buildRunner(command, workDir string, cfg *config.Config, log dblease.Logger) (scheduler.UnitRunner, func(), error) {
	shell := scheduler.NewShellUnitRunner(command, workDir)

	dsn := os.Getenv(testDBEnv)
	if dsn == "" {
		return shell, func() {}, nil
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open test database %s: %w", dsn, err)
	}

	leaseCfg := dblease.DefaultConfig()
	leaseCfg.MaxLeases = cfg.Resources.MaxDatabaseConnections
	manager := dblease.NewManagerWithLogger(db, leaseCfg, log)

	cleanup := func() {
		manager.Close()
		db.Close()
	}
	return dblease.WrapRunner(shell, manager), cleanup, nil
}

// buildGovernor sizes the resource pools from configuration. The CPU and
// memory thresholds become reserved headroom, so admission stops short of
// the configured ceilings.
func buildGovernor(cfg *config.Config, bus *events.Bus, log resource.Logger) *resource.Governor {
	memTotal := int64(cfg.Resources.MaxTotalMemoryMB)
	memReserved := memTotal * int64(100-cfg.Resources.MemoryThresholdPercent) / 100
	cpuReserved := int64(100 - cfg.Resources.CPUThresholdPercent)

	specs := []resource.PoolSpec{
		{Type: resource.PoolMemoryMB, Total: memTotal, Reserved: memReserved},
		{Type: resource.PoolCPUPercent, Total: 100, Reserved: cpuReserved},
		{Type: resource.PoolDBConnections, Total: int64(cfg.Resources.MaxDatabaseConnections)},
		{Type: resource.PoolWorkerSlots, Total: int64(cfg.MaxWorkers)},
	}
	return resource.NewGovernorWithOptions(specs, nil, bus, log)
}

// schedulerConfig maps run configuration onto the scheduler. The worker
// ceiling is the whole budget: a group too large for it could never be
// admitted anyway.
func schedulerConfig(cfg *config.Config) scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.MaxWorkers = cfg.MaxWorkers
	sc.HeartbeatInterval = cfg.HeartbeatInterval
	sc.HeartbeatTimeout = 3 * cfg.HeartbeatInterval
	sc.UnitTimeout = cfg.UnitTimeout
	sc.Ceiling = scheduler.WorkerCeiling{
		MemoryMB:      cfg.Resources.MaxTotalMemoryMB,
		DBConnections: cfg.Resources.MaxDatabaseConnections,
		Isolation:     models.IsolationDatabase,
	}
	return sc
}

// recordRun appends one history record per executed unit and applies the
// retention policy. Skipped units are not recorded; a zero-duration row
// would drag the unit's average down.
func recordRun(ctx context.Context, store *history.Store, cfg *config.Config,
	result *models.RunResult, startedAt time.Time, log runLogger) {

	for _, group := range result.Groups {
		for _, unit := range group.Units {
			if unit.Status == models.StatusSkipped {
				continue
			}
			store.Append(history.NewRecord(result.RunID, startedAt, unit, cfg.MaxWorkers, cfg.IsolationStrategy))
		}
	}

	if _, err := store.Flush(ctx); err != nil {
		log.LogWarn(fmt.Sprintf("failed to flush history: %v", err))
		return
	}
	if _, err := store.Prune(ctx, cfg.History.KeepDays, cfg.History.MaxRecordsPerUnit); err != nil {
		log.LogWarn(fmt.Sprintf("failed to prune history: %v", err))
	}
}

// forwardEvents mirrors scheduler and governor incidents into the loggers.
// Returns a func that unsubscribes and lets the drain goroutines exit.
func forwardEvents(bus *events.Bus, log runLogger) func() {
	incidents := []events.Type{
		events.TypeWorkerRestarted,
		events.TypeDegradation,
		events.TypeDeadlock,
		events.TypeResourcePressure,
		events.TypeBreakerState,
	}

	cancels := make([]func(), 0, len(incidents))
	for _, t := range incidents {
		ch, cancel := bus.Subscribe(t, 16)
		cancels = append(cancels, cancel)
		go func(t events.Type, ch <-chan events.Event) {
			for ev := range ch {
				log.LogDebug(fmt.Sprintf("%s: %v", t, ev.Payload))
			}
		}(t, ch)
	}

	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// runLogger is the union of the logging surfaces the run wires together.
type runLogger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogGroupStart(group *models.TestGroup, workerID string)
	LogGroupComplete(result *models.GroupResult)
	LogUnitComplete(result *models.UnitResult)
	LogUnitFail(result *models.UnitResult)
	LogRunSummary(result *models.RunResult)
}

// multiLogger implements runLogger by delegating to multiple loggers. When
// progress tracking is active it also drives the console progress bar off
// group completions.
type multiLogger struct {
	loggers []runLogger

	mu        sync.Mutex
	console   *logger.ConsoleLogger
	total     int
	completed int
	failed    int
	started   time.Time
}

// beginProgress arms progress reporting for a pass over total groups.
func (ml *multiLogger) beginProgress(console *logger.ConsoleLogger, total int) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.console = console
	ml.total = total
	ml.completed = 0
	ml.failed = 0
	ml.started = time.Now()
}

// endProgress stops progress reporting.
func (ml *multiLogger) endProgress() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.console = nil
}

// LogDebug forwards to all loggers
func (ml *multiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}

// LogInfo forwards to all loggers
func (ml *multiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}

// LogWarn forwards to all loggers
func (ml *multiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}

// LogError forwards to all loggers
func (ml *multiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}

// LogGroupStart forwards to all loggers
func (ml *multiLogger) LogGroupStart(group *models.TestGroup, workerID string) {
	for _, l := range ml.loggers {
		l.LogGroupStart(group, workerID)
	}
}

// LogGroupComplete forwards to all loggers and advances the progress bar
func (ml *multiLogger) LogGroupComplete(result *models.GroupResult) {
	for _, l := range ml.loggers {
		l.LogGroupComplete(result)
	}

	ml.mu.Lock()
	console := ml.console
	if console != nil {
		ml.completed++
		if result != nil && result.Status != models.StatusPassed {
			ml.failed++
		}
	}
	completed, failed, total := ml.completed, ml.failed, ml.total
	var avg time.Duration
	if completed > 0 {
		avg = time.Since(ml.started) / time.Duration(completed)
	}
	ml.mu.Unlock()

	if console != nil {
		console.LogProgress(completed, failed, total, avg)
	}
}

// LogUnitComplete forwards to all loggers
func (ml *multiLogger) LogUnitComplete(result *models.UnitResult) {
	for _, l := range ml.loggers {
		l.LogUnitComplete(result)
	}
}

// LogUnitFail forwards to all loggers
func (ml *multiLogger) LogUnitFail(result *models.UnitResult) {
	for _, l := range ml.loggers {
		l.LogUnitFail(result)
	}
}

// LogRunSummary forwards to all loggers
func (ml *multiLogger) LogRunSummary(result *models.RunResult) {
	for _, l := range ml.loggers {
		l.LogRunSummary(result)
	}
}
