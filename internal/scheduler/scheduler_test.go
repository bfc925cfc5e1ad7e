package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/events"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/resource"
)

// recordingLogger captures scheduler log calls for assertions.
type recordingLogger struct {
	mu          sync.Mutex
	groupStarts []string
	groupsDone  []string
	unitsPassed int
	unitsFailed int
	summaries   int
	warns       []string
}

func (l *recordingLogger) LogGroupStart(group *models.TestGroup, workerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groupStarts = append(l.groupStarts, group.ID)
}

func (l *recordingLogger) LogGroupComplete(result *models.GroupResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groupsDone = append(l.groupsDone, result.GroupID)
}

func (l *recordingLogger) LogUnitComplete(result *models.UnitResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unitsPassed++
}

func (l *recordingLogger) LogUnitFail(result *models.UnitResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unitsFailed++
}

func (l *recordingLogger) LogRunSummary(result *models.RunResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries++
}

func (l *recordingLogger) LogInfo(message string) {}

func (l *recordingLogger) LogWarn(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, message)
}

func fastConfig() Config {
	return Config{
		MaxWorkers:        2,
		HeartbeatInterval: 10 * time.Millisecond,
		UnitTimeout:       5 * time.Second,
		RestartDelay:      10 * time.Millisecond,
		MaxWorkerRestarts: 3,
		MaxGroupRequeues:  2,
		DeferralTimeout:   time.Minute,
		StallTimeout:      5 * time.Second,
		Ceiling:           WorkerCeiling{MemoryMB: 2048, DBConnections: 5, Isolation: models.IsolationDatabase},
	}
}

func testGovernor() *resource.Governor {
	return resource.NewGovernor([]resource.PoolSpec{
		{Type: resource.PoolWorkerSlots, Total: 2},
		{Type: resource.PoolMemoryMB, Total: 4096},
		{Type: resource.PoolDBConnections, Total: 10},
	})
}

func runContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func assertPoolsDrained(t *testing.T, gov *resource.Governor) {
	t.Helper()
	for _, snap := range gov.Snapshots() {
		if snap.Allocated != 0 || snap.Available != snap.Total-snap.Reserved {
			t.Errorf("pool %s not drained after run: %+v", snap.Type, snap)
		}
	}
}

func groupResultFor(t *testing.T, result *models.RunResult, groupID string) *models.GroupResult {
	t.Helper()
	for i := range result.Groups {
		if result.Groups[i].GroupID == groupID {
			return &result.Groups[i]
		}
	}
	t.Fatalf("no result recorded for group %s", groupID)
	return nil
}

func TestRunExecutesAllGroups(t *testing.T) {
	runner := newFakeRunner()
	logger := &recordingLogger{}
	gov := testGovernor()
	s := NewSchedulerWithConfig(fastConfig(), gov, runner, logger, nil)

	groups := []*models.TestGroup{
		makeGroup("group-accounts", models.PriorityNormal,
			makeUnit("tests/accounts/create.test.ts", 256, 1),
			makeUnit("tests/accounts/list.test.ts", 256, 1)),
		makeGroup("group-transfers", models.PriorityNormal,
			makeUnit("tests/transfers/post.test.ts", 256, 1),
			makeUnit("tests/transfers/undo.test.ts", 256, 1)),
		makeGroup("group-budgets", models.PriorityNormal,
			makeUnit("tests/budgets/rollover.test.ts", 256, 1),
			makeUnit("tests/budgets/alerts.test.ts", 256, 1)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalGroups != 3 || result.TotalUnits != 6 {
		t.Errorf("totals = %d groups / %d units, want 3/6", result.TotalGroups, result.TotalUnits)
	}
	if result.Passed != 6 || result.Failed != 0 || result.Skipped != 0 {
		t.Errorf("counts = %d passed / %d failed / %d skipped, want 6/0/0",
			result.Passed, result.Failed, result.Skipped)
	}
	if !result.Success() {
		t.Error("Success() = false, want true")
	}
	if result.RunID == "" {
		t.Error("RunID must be set")
	}
	if len(result.Groups) != 3 {
		t.Errorf("got %d group results, want 3", len(result.Groups))
	}
	if logger.summaries != 1 {
		t.Errorf("LogRunSummary called %d times, want 1", logger.summaries)
	}
	if len(logger.groupStarts) != 3 || len(logger.groupsDone) != 3 {
		t.Errorf("logged %d starts / %d completions, want 3/3", len(logger.groupStarts), len(logger.groupsDone))
	}
	if logger.unitsPassed != 6 {
		t.Errorf("logged %d unit passes, want 6", logger.unitsPassed)
	}
	assertPoolsDrained(t, gov)
}

func TestRunRecordsFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.failFor["tests/broken.test.ts"] = 99
	s := NewSchedulerWithConfig(fastConfig(), nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-good", models.PriorityNormal, makeUnit("tests/fine.test.ts", 128, 1)),
		makeGroup("group-bad", models.PriorityNormal, makeUnit("tests/broken.test.ts", 128, 1)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Passed != 1 || result.Failed != 1 {
		t.Errorf("counts = %d passed / %d failed, want 1/1", result.Passed, result.Failed)
	}
	if result.Success() {
		t.Error("Success() = true, want false")
	}
	if got := groupResultFor(t, result, "group-bad").Status; got != models.StatusFailed {
		t.Errorf("failed group status = %s, want %s", got, models.StatusFailed)
	}
	// One failed group is far below the breaker threshold.
	if state := s.BreakerStates()["database"]; state != BreakerClosed {
		t.Errorf("database breaker = %s, want closed after a single failure", state)
	}
}

func TestRunAssignsByPriority(t *testing.T) {
	runner := newFakeRunner()
	config := fastConfig()
	config.MaxWorkers = 1
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-normal", models.PriorityNormal, makeUnit("tests/normal.test.ts", 128, 0)),
		makeGroup("group-critical", models.PriorityCritical, makeUnit("tests/critical.test.ts", 128, 0)),
		makeGroup("group-high", models.PriorityHigh, makeUnit("tests/high.test.ts", 128, 0)),
	}

	if _, err := s.Run(runContext(t), groups); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"tests/critical.test.ts", "tests/high.test.ts", "tests/normal.test.ts"}
	got := runner.runOrder()
	if len(got) != len(want) {
		t.Fatalf("ran %d units, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("run order = %v, want %v", got, want)
		}
	}
}

func TestSortGroupsTiebreakChain(t *testing.T) {
	critical := makeGroup("mm-critical", models.PriorityCritical, makeUnit("a", 1, 0))
	schema := makeGroup("nn-schema", models.PriorityNormal, makeUnit("b", 1, 0))
	schema.Level = models.LevelSchemaChanging
	longA := makeGroup("aa-long", models.PriorityNormal, makeUnit("c", 1, 0))
	longA.EstimatedDuration = 500 * time.Millisecond
	longZ := makeGroup("zz-long", models.PriorityNormal, makeUnit("d", 1, 0))
	longZ.EstimatedDuration = 500 * time.Millisecond
	short := makeGroup("bb-short", models.PriorityNormal, makeUnit("e", 1, 0))
	short.EstimatedDuration = 200 * time.Millisecond

	groups := []*models.TestGroup{longZ, short, schema, longA, critical}
	SortGroups(groups)

	want := []string{"mm-critical", "nn-schema", "aa-long", "zz-long", "bb-short"}
	for i, g := range groups {
		if g.ID != want[i] {
			ids := make([]string, len(groups))
			for j, gg := range groups {
				ids[j] = gg.ID
			}
			t.Fatalf("sorted order = %v, want %v", ids, want)
		}
	}
}

func TestRunRequeuesGroupAfterWorkerFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.breakOn["tests/cursed.test.ts"] = 1
	config := fastConfig()
	config.MaxWorkers = 1
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-cursed", models.PriorityNormal, makeUnit("tests/cursed.test.ts", 128, 0)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Passed != 1 || result.Failed != 0 {
		t.Errorf("counts = %d passed / %d failed, want 1/0", result.Passed, result.Failed)
	}
	if result.WorkerRestarts != 1 {
		t.Errorf("WorkerRestarts = %d, want 1", result.WorkerRestarts)
	}
	if got := runner.callCount("tests/cursed.test.ts"); got != 2 {
		t.Errorf("call count = %d, want 2 (crash then success on the respawned worker)", got)
	}
}

func TestRunFailsGroupWhenRequeueBudgetExhausted(t *testing.T) {
	runner := newFakeRunner()
	runner.breakOn["tests/fatal.test.ts"] = 99
	config := fastConfig()
	config.MaxWorkers = 1
	config.MaxGroupRequeues = 1
	config.MaxWorkerRestarts = 5
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-fatal", models.PriorityNormal, makeUnit("tests/fatal.test.ts", 128, 0)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	gr := groupResultFor(t, result, "group-fatal")
	if len(gr.Warnings) == 0 || !strings.Contains(gr.Warnings[0], "requeue budget exhausted") {
		t.Errorf("warnings = %v, want a requeue budget message", gr.Warnings)
	}
	if got := runner.callCount("tests/fatal.test.ts"); got != 2 {
		t.Errorf("call count = %d, want 2 (initial attempt + one requeue)", got)
	}
}

func TestRunFailsRemainingWhenAllWorkersTerminated(t *testing.T) {
	runner := newFakeRunner()
	runner.breakOn["tests/killer.test.ts"] = 99
	config := fastConfig()
	config.MaxWorkers = 1
	config.MaxWorkerRestarts = 0
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-a-killer", models.PriorityNormal, makeUnit("tests/killer.test.ts", 128, 0)),
		makeGroup("group-b-victim", models.PriorityNormal, makeUnit("tests/victim.test.ts", 128, 0)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2: the pool died with work outstanding", result.Failed)
	}
	gr := groupResultFor(t, result, "group-b-victim")
	if len(gr.Warnings) == 0 || !strings.Contains(gr.Warnings[0], "no workers left") {
		t.Errorf("warnings = %v, want a dead-pool message", gr.Warnings)
	}
}

func TestRunFailsUnschedulableGroup(t *testing.T) {
	runner := newFakeRunner()
	s := NewSchedulerWithConfig(fastConfig(), nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-giant", models.PriorityNormal, makeUnit("tests/giant.test.ts", 4096, 1)),
		makeGroup("group-small", models.PriorityNormal, makeUnit("tests/small.test.ts", 128, 1)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Passed != 1 || result.Failed != 1 {
		t.Errorf("counts = %d passed / %d failed, want 1/1", result.Passed, result.Failed)
	}
	gr := groupResultFor(t, result, "group-giant")
	if len(gr.Warnings) == 0 || !strings.Contains(gr.Warnings[0], "worker ceiling") {
		t.Errorf("warnings = %v, want a ceiling message", gr.Warnings)
	}
	if got := runner.callCount("tests/giant.test.ts"); got != 0 {
		t.Errorf("unschedulable unit ran %d times, want 0", got)
	}
}

func TestRunDefersThenFailsBreakerBlockedGroup(t *testing.T) {
	runner := newFakeRunner()
	config := fastConfig()
	config.DeferralTimeout = 30 * time.Millisecond
	config.Breaker = BreakerConfig{FailureThreshold: 3, SuccessThreshold: 3, ResetTimeout: time.Hour}
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	// Trip the database breaker before the run starts.
	b := s.breakers.Get("database")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	groups := []*models.TestGroup{
		makeGroup("group-db", models.PriorityNormal, makeUnit("tests/db.test.ts", 128, 2)),
		makeGroup("group-pure", models.PriorityNormal, makeUnit("tests/pure.test.ts", 128, 0)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Passed != 1 || result.Failed != 1 {
		t.Errorf("counts = %d passed / %d failed, want 1/1", result.Passed, result.Failed)
	}
	gr := groupResultFor(t, result, "group-db")
	if len(gr.Warnings) == 0 || !strings.Contains(gr.Warnings[0], "circuit breaker open") {
		t.Errorf("warnings = %v, want a breaker rejection", gr.Warnings)
	}
	if got := runner.callCount("tests/db.test.ts"); got != 0 {
		t.Errorf("breaker-blocked unit ran %d times, want 0", got)
	}
}

func TestRunCancelledContextSkipsRemainingWork(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 300 * time.Millisecond
	config := fastConfig()
	config.MaxWorkers = 1
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	groups := []*models.TestGroup{
		makeGroup("group-first", models.PriorityNormal, makeUnit("tests/first.test.ts", 128, 0)),
		makeGroup("group-second", models.PriorityNormal, makeUnit("tests/second.test.ts", 128, 0)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := s.Run(ctx, groups)
	if err == nil {
		t.Fatal("Run() error = nil, want the context error")
	}
	if result.Skipped != 2 || result.Passed != 0 {
		t.Errorf("counts = %d passed / %d skipped, want 0/2", result.Passed, result.Skipped)
	}
	if len(result.Groups) != 2 {
		t.Errorf("got %d group results, want 2", len(result.Groups))
	}
}

func TestRunHaltsWhenErrorRateCritical(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 30 * time.Millisecond
	for _, path := range []string{"tests/f1.test.ts", "tests/f2.test.ts", "tests/f3.test.ts", "tests/f4.test.ts", "tests/f5.test.ts"} {
		runner.failFor[path] = 99
	}
	config := fastConfig()
	config.MaxWorkers = 1
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	var groups []*models.TestGroup
	for _, path := range []string{"tests/f1.test.ts", "tests/f2.test.ts", "tests/f3.test.ts", "tests/f4.test.ts", "tests/f5.test.ts"} {
		groups = append(groups, makeGroup("group-"+path, models.PriorityNormal, makeUnit(path, 128, 0)))
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.DegradationPeak != 5 {
		t.Errorf("DegradationPeak = %d, want 5", result.DegradationPeak)
	}
	if result.Skipped == 0 {
		t.Error("Skipped = 0, want the halt to shed queued groups")
	}
	if result.Failed+result.Skipped != 5 {
		t.Errorf("failed %d + skipped %d = %d, want every unit accounted for",
			result.Failed, result.Skipped, result.Failed+result.Skipped)
	}
}

func TestRunCriticalOnlyFilterUnderDegradation(t *testing.T) {
	runner := newFakeRunner()
	config := fastConfig()
	config.StallTimeout = 50 * time.Millisecond
	config.Degradation = DegradationConfig{Cooldown: time.Hour}
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)
	s.degradation.level = 3 // critical-only

	groups := []*models.TestGroup{
		makeGroup("group-routine", models.PriorityNormal, makeUnit("tests/routine.test.ts", 128, 0)),
		makeGroup("group-vital", models.PriorityCritical, makeUnit("tests/vital.test.ts", 128, 0)),
	}

	result, err := s.Run(runContext(t), groups)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Passed != 1 {
		t.Errorf("Passed = %d, want 1 (the critical group)", result.Passed)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 (the filtered group)", result.Skipped)
	}
	if got := runner.callCount("tests/routine.test.ts"); got != 0 {
		t.Errorf("filtered unit ran %d times, want 0", got)
	}
}

func TestHeartbeatStalenessEscalation(t *testing.T) {
	runner := newFakeRunner()
	config := fastConfig()
	config.HeartbeatTimeout = 50 * time.Millisecond
	s := NewSchedulerWithConfig(config, nil, runner, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &runState{
		runCtx:       ctx,
		byID:         make(map[string]*slot),
		workerEvents: make(chan workerEvent, 8),
		lastProgress: time.Now(),
	}
	w := newWorker("worker-0-stuck", st.workerEvents, runner, workerConfig{heartbeatInterval: time.Hour})
	_, slotCancel := context.WithCancel(ctx)
	qg := &queuedGroup{group: makeGroup("group-hung", models.PriorityNormal, makeUnit("tests/hung.test.ts", 128, 0))}
	sl := &slot{
		index:   0,
		id:      "worker-0-stuck",
		w:       w,
		cancel:  slotCancel,
		state:   WorkerRunning,
		current: qg,
	}
	st.slots = []*slot{sl}
	st.byID[sl.id] = sl

	// One stale interval: warning only.
	sl.lastBeat = time.Now().Add(-60 * time.Millisecond)
	s.onTick(st, time.Now())
	if !sl.warned {
		t.Error("one stale heartbeat interval must set the warning flag")
	}
	if sl.state != WorkerRunning || len(st.queue) != 0 {
		t.Fatalf("state = %s, queue = %d: a warning must not disturb the worker", sl.state, len(st.queue))
	}

	// Two stale intervals: forced restart and requeue.
	sl.lastBeat = time.Now().Add(-150 * time.Millisecond)
	s.onTick(st, time.Now())
	if sl.state != WorkerError {
		t.Errorf("state = %s, want error pending respawn", sl.state)
	}
	if len(st.queue) != 1 || st.queue[0].group.ID != "group-hung" {
		t.Error("the stuck worker's group must be requeued")
	}
	if st.restarts != 1 {
		t.Errorf("restarts = %d, want 1", st.restarts)
	}
	if _, ok := st.byID[sl.id]; ok {
		t.Error("dead incarnation must leave the worker table")
	}

	// Once the restart delay passes, the slot respawns fresh.
	sl.respawnAt = time.Now().Add(-time.Millisecond)
	s.onTick(st, time.Now())
	fresh := st.slots[0]
	if fresh.id == "worker-0-stuck" {
		t.Error("respawn must mint a new incarnation id")
	}
	if fresh.state != WorkerInitializing {
		t.Errorf("fresh state = %s, want initializing", fresh.state)
	}
	if fresh.restarts != 1 {
		t.Errorf("fresh restarts = %d, want the slot budget carried over", fresh.restarts)
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	runner := newFakeRunner()
	bus := events.NewBus()
	defer bus.Close()

	started, stopStarted := bus.Subscribe(events.TypeGroupStarted, 16)
	defer stopStarted()
	finished, stopFinished := bus.Subscribe(events.TypeGroupFinished, 16)
	defer stopFinished()

	s := NewSchedulerWithConfig(fastConfig(), nil, runner, nil, bus)
	groups := []*models.TestGroup{
		makeGroup("group-one", models.PriorityNormal, makeUnit("tests/one.test.ts", 128, 0)),
		makeGroup("group-two", models.PriorityNormal, makeUnit("tests/two.test.ts", 128, 0)),
	}

	if _, err := s.Run(runContext(t), groups); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(started); got != 2 {
		t.Errorf("observed %d group-started events, want 2", got)
	}
	if got := len(finished); got != 2 {
		t.Errorf("observed %d group-finished events, want 2", got)
	}
}

func TestRunRequiresRunner(t *testing.T) {
	s := NewSchedulerWithConfig(fastConfig(), nil, nil, nil, nil)
	if _, err := s.Run(context.Background(), nil); err == nil {
		t.Fatal("Run() without a runner must error")
	}
}
