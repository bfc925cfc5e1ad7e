// Package scheduler executes grouped test units on a fixed worker pool.
// A single coordinator loop owns every piece of bookkeeping (the queue,
// the worker table, breaker and degradation state), so the interior needs
// no fine-grained locking. Workers are goroutines that communicate with
// the coordinator exclusively through typed messages on channels.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/DerekVonk/vonkfi-sub000/internal/events"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/resource"
)

// Logger defines the logging interface the scheduler reports through.
type Logger interface {
	LogGroupStart(group *models.TestGroup, workerID string)
	LogGroupComplete(result *models.GroupResult)
	LogUnitComplete(result *models.UnitResult)
	LogUnitFail(result *models.UnitResult)
	LogRunSummary(result *models.RunResult)
	LogInfo(message string)
	LogWarn(message string)
}

// Config holds scheduler tuning.
type Config struct {
	// MaxWorkers sizes the worker pool (default: 4)
	MaxWorkers int

	// HeartbeatInterval is the worker tick period (default: 1s)
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the staleness threshold: one timeout warns, two
	// force a restart (default: 3× HeartbeatInterval)
	HeartbeatTimeout time.Duration

	// UnitTimeout bounds a single unit execution (default: 2m)
	UnitTimeout time.Duration

	// MaxUnitRetries reruns a failed unit up to N extra times (default: 1)
	MaxUnitRetries int

	// RestartDelay is the pause before a failed worker respawns (default: 2s)
	RestartDelay time.Duration

	// MaxWorkerRestarts bounds restarts per worker slot (default: 3)
	MaxWorkerRestarts int

	// MaxGroupRequeues bounds how often a group survives its worker dying
	// before it is failed outright (default: 2)
	MaxGroupRequeues int

	// DeferralTimeout fails a group that breakers or allocation denials
	// have kept off a worker for this long (default: 2m)
	DeferralTimeout time.Duration

	// StallTimeout ends the run, skipping leftovers, when nothing has been
	// dispatched or completed for this long (default: 5m)
	StallTimeout time.Duration

	// Ceiling bounds what any single worker may take on
	Ceiling WorkerCeiling

	// Breaker configures the per-resource circuit breakers
	Breaker BreakerConfig

	// Degradation configures the graceful-degradation ladder
	Degradation DegradationConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:        4,
		HeartbeatInterval: time.Second,
		UnitTimeout:       2 * time.Minute,
		MaxUnitRetries:    1,
		RestartDelay:      2 * time.Second,
		MaxWorkerRestarts: 3,
		MaxGroupRequeues:  2,
		DeferralTimeout:   2 * time.Minute,
		StallTimeout:      5 * time.Minute,
		Ceiling: WorkerCeiling{
			MemoryMB:      2048,
			DBConnections: 5,
			Isolation:     models.IsolationDatabase,
		},
		Breaker:     DefaultBreakerConfig(),
		Degradation: DefaultDegradationConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = d.UnitTimeout
	}
	if c.MaxUnitRetries < 0 {
		c.MaxUnitRetries = 0
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.MaxWorkerRestarts < 0 {
		c.MaxWorkerRestarts = 0
	}
	if c.MaxGroupRequeues < 0 {
		c.MaxGroupRequeues = 0
	}
	if c.DeferralTimeout <= 0 {
		c.DeferralTimeout = d.DeferralTimeout
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.Ceiling.MemoryMB <= 0 {
		c.Ceiling = d.Ceiling
	}
	return c
}

// Scheduler drives test groups through the worker pool under resource
// governance, circuit breaking, and graceful degradation.
type Scheduler struct {
	config      Config
	governor    *resource.Governor
	runner      UnitRunner
	logger      Logger
	bus         *events.Bus
	breakers    *BreakerRegistry
	degradation *DegradationController
	detector    *DeadlockDetector
}

// NewScheduler constructs a Scheduler with default configuration. The
// logger and bus parameters of NewSchedulerWithConfig default to nil.
func NewScheduler(governor *resource.Governor, runner UnitRunner) *Scheduler {
	return NewSchedulerWithConfig(DefaultConfig(), governor, runner, nil, nil)
}

// NewSchedulerWithConfig constructs a Scheduler. Deadlock detection feeds
// off governor events, so the governor and scheduler must share the same
// bus for cycles to be observed; a nil bus disables detection.
func NewSchedulerWithConfig(config Config, governor *resource.Governor, runner UnitRunner, logger Logger, bus *events.Bus) *Scheduler {
	config = config.withDefaults()
	return &Scheduler{
		config:      config,
		governor:    governor,
		runner:      runner,
		logger:      logger,
		bus:         bus,
		breakers:    NewBreakerRegistry(config.Breaker),
		degradation: NewDegradationControllerWithConfig(config.Degradation),
		detector:    NewDeadlockDetector(),
	}
}

// Detector exposes the deadlock detector for reporting.
func (s *Scheduler) Detector() *DeadlockDetector {
	return s.detector
}

// BreakerStates exposes breaker state for reporting.
func (s *Scheduler) BreakerStates() map[string]BreakerState {
	return s.breakers.States()
}

// groupLess is the assignment order: priority desc, dependency level desc,
// estimated duration desc, then id for stability.
func groupLess(a, b *models.TestGroup) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.EstimatedDuration != b.EstimatedDuration {
		return a.EstimatedDuration > b.EstimatedDuration
	}
	return a.ID < b.ID
}

// SortGroups orders groups for assignment.
func SortGroups(groups []*models.TestGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groupLess(groups[i], groups[j])
	})
}

// queuedGroup wraps a group with scheduling bookkeeping.
type queuedGroup struct {
	group         *models.TestGroup
	requeues      int
	deferredSince time.Time // first breaker/allocation rejection of the current streak
}

// slot is the coordinator's view of one worker position in the pool.
type slot struct {
	index     int
	id        string // current incarnation
	w         *worker
	cancel    context.CancelFunc
	state     WorkerState
	load      time.Duration // accumulated estimated load
	current   *queuedGroup
	allocIDs  []string
	lastBeat  time.Time
	warned    bool // stale-heartbeat warning issued for the current streak
	restarts  int
	respawnAt time.Time // when an errored slot may come back
}

// runState is the coordinator's working set for one Run call. Everything in
// here is touched only from the Run goroutine.
type runState struct {
	runCtx       context.Context
	queue        []*queuedGroup
	slots        []*slot
	byID         map[string]*slot
	workerEvents chan workerEvent

	completed      []models.GroupResult
	passed         int
	failed         int
	skipped        int
	groupDurations time.Duration

	restarts     int
	halted       bool
	lastProgress time.Time
}

// Run executes the groups and blocks until the queue drains, the context is
// cancelled, or the degradation ladder halts the run.
func (s *Scheduler) Run(ctx context.Context, groups []*models.TestGroup) (*models.RunResult, error) {
	if s.runner == nil {
		return nil, fmt.Errorf("scheduler has no unit runner")
	}

	runCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	st := &runState{
		runCtx:       runCtx,
		byID:         make(map[string]*slot),
		workerEvents: make(chan workerEvent, s.config.MaxWorkers*8),
		lastProgress: time.Now(),
	}

	totalUnits := 0
	for _, g := range groups {
		totalUnits += g.Size()
		st.queue = append(st.queue, &queuedGroup{group: g})
	}
	sortQueue(st.queue)

	for i := 0; i < s.config.MaxWorkers; i++ {
		st.slots = append(st.slots, s.spawnSlot(st, i))
	}

	// Governor events feed the deadlock detector. Nil channels never fire.
	var allocCh, releaseCh, waitCh <-chan events.Event
	if s.bus != nil {
		var stopAlloc, stopRelease, stopWait func()
		allocCh, stopAlloc = s.bus.Subscribe(events.TypeAllocated, 256)
		releaseCh, stopRelease = s.bus.Subscribe(events.TypeReleased, 256)
		waitCh, stopWait = s.bus.Subscribe(events.TypeAllocationWait, 256)
		defer stopAlloc()
		defer stopRelease()
		defer stopWait()
	}

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	start := time.Now()
	result := &models.RunResult{
		RunID:       uuid.NewString(),
		TotalGroups: len(groups),
		TotalUnits:  totalUnits,
	}
	s.infof("run %s: %d group(s), %d unit(s) on %d worker(s)",
		result.RunID, result.TotalGroups, result.TotalUnits, s.config.MaxWorkers)

	var runErr error

loop:
	for {
		s.dispatch(st)

		if s.runComplete(st) {
			break
		}

		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			s.shutdown(st, cancelWorkers)
			break loop
		case ev := <-st.workerEvents:
			s.handleWorkerEvent(st, ev)
		case ev := <-allocCh:
			s.detector.Observe(ev)
		case ev := <-releaseCh:
			s.detector.Observe(ev)
		case ev := <-waitCh:
			s.detector.Observe(ev)
		case now := <-ticker.C:
			s.onTick(st, now)
			if st.halted && !s.anyRunning(st) {
				s.skipRemaining(st, "run halted by degradation ladder")
				break loop
			}
			if time.Since(st.lastProgress) > s.config.StallTimeout && !s.anyRunning(st) {
				s.warnf("no scheduling progress for %s, skipping %d queued group(s)",
					s.config.StallTimeout, len(st.queue))
				s.skipRemaining(st, "scheduler stalled")
				break loop
			}
		}
	}

	result.Duration = time.Since(start)
	result.Groups = st.completed
	result.Passed = st.passed
	result.Failed = st.failed
	result.Skipped = st.skipped
	result.DegradationPeak = s.degradation.Peak()
	result.DeadlocksFound = s.detector.Reported()
	result.WorkerRestarts = st.restarts
	if s.governor != nil {
		result.AllocationDenials = s.governor.Denials()
	}

	if s.logger != nil {
		s.logger.LogRunSummary(result)
	}
	return result, runErr
}

// dispatch assigns queued groups to idle workers until nothing more fits.
func (s *Scheduler) dispatch(st *runState) {
	for {
		if st.halted {
			return
		}
		allowance := s.degradation.WorkerAllowance(len(st.slots))
		if s.runningCount(st) >= allowance {
			return
		}

		assigned := false
		for qi := 0; qi < len(st.queue); qi++ {
			qg := st.queue[qi]

			if s.degradation.Action() == ActionCriticalOnly && qg.group.Priority < models.PriorityCritical {
				continue
			}

			if !s.config.Ceiling.Fits(qg.group) {
				s.removeFromQueue(st, qi)
				s.failGroup(st, qg, &UnschedulableError{
					GroupID: qg.group.ID,
					Reason: fmt.Sprintf("needs %dMB/%d connections, worker ceiling is %dMB/%d",
						qg.group.Resources.MemoryMB, qg.group.Resources.DBConnections,
						s.config.Ceiling.MemoryMB, s.config.Ceiling.DBConnections),
				})
				assigned = true // queue changed, restart the scan
				break
			}

			if blockedKey := s.breakerBlocked(qg.group); blockedKey != "" {
				if s.deferGroup(st, qi, qg, &BreakerOpenError{Resource: blockedKey, GroupID: qg.group.ID}) {
					assigned = true
					break
				}
				continue
			}

			target := s.leastLoadedIdle(st)
			if target == nil {
				return
			}

			allocIDs, err := s.allocateFor(target.id, qg.group)
			if err != nil {
				if s.deferGroup(st, qi, qg, err) {
					assigned = true
					break
				}
				continue
			}

			qg.deferredSince = time.Time{}
			s.removeFromQueue(st, qi)
			s.assign(st, target, qg, allocIDs)
			assigned = true
			break
		}

		if !assigned {
			return
		}
	}
}

// deferGroup notes a rejection; once the streak outlives the deferral
// timeout the group fails with the rejection error. Returns true when the
// group was removed from the queue.
func (s *Scheduler) deferGroup(st *runState, qi int, qg *queuedGroup, cause error) bool {
	if qg.deferredSince.IsZero() {
		qg.deferredSince = time.Now()
		return false
	}
	if time.Since(qg.deferredSince) <= s.config.DeferralTimeout {
		return false
	}
	s.removeFromQueue(st, qi)
	s.failGroup(st, qg, cause)
	return true
}

func (s *Scheduler) assign(st *runState, target *slot, qg *queuedGroup, allocIDs []string) {
	target.state = WorkerRunning
	target.current = qg
	target.allocIDs = allocIDs
	target.load += qg.group.EstimatedDuration
	st.lastProgress = time.Now()

	if s.logger != nil {
		s.logger.LogGroupStart(qg.group, target.id)
	}
	s.emit(events.TypeGroupStarted, qg.group.ID)
	s.emit(events.TypeWorkerState, fmt.Sprintf("%s: %s", target.id, target.state))

	target.w.mailbox <- assignment{group: qg.group, allocIDs: allocIDs}
}

// allocateFor reserves the group's resources against the pools the governor
// actually manages; unconfigured pools act as unlimited.
func (s *Scheduler) allocateFor(workerID string, group *models.TestGroup) ([]string, error) {
	if s.governor == nil {
		return nil, nil
	}

	var requests []resource.Request
	if _, ok := s.governor.Snapshot(resource.PoolWorkerSlots); ok {
		requests = append(requests, resource.Request{
			Type: resource.PoolWorkerSlots, Amount: 1, Priority: group.Priority,
		})
	}
	if group.Resources.MemoryMB > 0 {
		if _, ok := s.governor.Snapshot(resource.PoolMemoryMB); ok {
			requests = append(requests, resource.Request{
				Type: resource.PoolMemoryMB, Amount: int64(group.Resources.MemoryMB), Priority: group.Priority,
			})
		}
	}
	if group.Resources.DBConnections > 0 {
		if _, ok := s.governor.Snapshot(resource.PoolDBConnections); ok {
			requests = append(requests, resource.Request{
				Type: resource.PoolDBConnections, Amount: int64(group.Resources.DBConnections), Priority: group.Priority,
			})
		}
	}
	if len(requests) == 0 {
		return nil, nil
	}

	allocs, err := s.governor.Allocate(workerID, requests, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(allocs))
	for i, a := range allocs {
		ids[i] = a.ID
	}
	return ids, nil
}

func (s *Scheduler) release(ids []string) {
	if s.governor == nil || len(ids) == 0 {
		return
	}
	if err := s.governor.Release(ids); err != nil {
		// Reclaimed allocations are already gone; nothing to do but note it.
		s.warnf("releasing allocations: %v", err)
	}
}

func (s *Scheduler) handleWorkerEvent(st *runState, ev workerEvent) {
	sl, ok := st.byID[ev.workerID]
	if !ok {
		return // stale incarnation
	}

	switch ev.kind {
	case eventReady:
		sl.lastBeat = time.Now()
		sl.warned = false
		if sl.state == WorkerInitializing {
			sl.state = WorkerIdle
		}
	case eventHeartbeat:
		sl.lastBeat = time.Now()
		sl.warned = false
	case eventGroupDone:
		sl.lastBeat = time.Now()
		if ev.err != nil {
			s.warnf("%v", ev.err)
			s.failSlot(st, sl, ev.err)
			return
		}
		s.completeGroup(st, sl, ev.result)
	}
}

// completeGroup records a finished group and returns the worker to idle.
func (s *Scheduler) completeGroup(st *runState, sl *slot, result *models.GroupResult) {
	qg := sl.current
	if qg == nil {
		return
	}
	s.release(sl.allocIDs)

	sl.state = WorkerIdle
	sl.current = nil
	sl.allocIDs = nil
	st.lastProgress = time.Now()

	if result == nil {
		result = &models.GroupResult{GroupID: qg.group.ID, WorkerID: sl.id, Status: models.StatusFailed}
	}

	st.completed = append(st.completed, *result)
	st.groupDurations += result.Duration
	for i := range result.Units {
		unit := &result.Units[i]
		switch unit.Status {
		case models.StatusPassed:
			st.passed++
			if s.logger != nil {
				s.logger.LogUnitComplete(unit)
			}
		case models.StatusSkipped:
			st.skipped++
		default:
			st.failed++
			if s.logger != nil {
				s.logger.LogUnitFail(unit)
			}
		}
	}
	// Units that never reported (aborted launch) count as skipped.
	st.skipped += qg.group.Size() - len(result.Units)

	for _, key := range breakerKeys(qg.group) {
		b := s.breakers.Get(key)
		before := b.State()
		if result.Status == models.StatusPassed {
			b.RecordSuccess()
		} else {
			b.RecordFailure()
		}
		if after := b.State(); after != before {
			s.warnf("circuit breaker %s: %s -> %s", key, before, after)
			s.emit(events.TypeBreakerState, fmt.Sprintf("%s: %s", key, after))
		}
	}

	if s.logger != nil {
		s.logger.LogGroupComplete(result)
	}
	s.emit(events.TypeGroupFinished, result.GroupID)
}

// failSlot handles a worker failure: requeue its group, tear down the
// incarnation, and schedule a bounded restart.
func (s *Scheduler) failSlot(st *runState, sl *slot, cause error) {
	s.release(sl.allocIDs)
	sl.allocIDs = nil

	if sl.current != nil {
		qg := sl.current
		sl.current = nil
		qg.requeues++
		if qg.requeues > s.config.MaxGroupRequeues {
			s.failGroup(st, qg, NewWorkerFailureError(sl.id, "group requeue budget exhausted", cause))
		} else {
			s.warnf("requeuing group %s after worker failure (attempt %d)", qg.group.ID, qg.requeues)
			st.queue = append(st.queue, qg)
			sortQueue(st.queue)
		}
	}

	sl.cancel()
	delete(st.byID, sl.id)
	st.restarts++

	if sl.restarts >= s.config.MaxWorkerRestarts {
		sl.state = WorkerTerminated
		s.warnf("worker slot %d terminated after %d restarts", sl.index, sl.restarts)
		s.terminateIfDead(st)
		return
	}

	sl.state = WorkerError
	sl.respawnAt = time.Now().Add(s.config.RestartDelay)
	s.emit(events.TypeWorkerState, fmt.Sprintf("%s: %s", sl.id, sl.state))
}

// terminateIfDead fails whatever is left when every slot is terminated.
func (s *Scheduler) terminateIfDead(st *runState) {
	for _, sl := range st.slots {
		if sl.state != WorkerTerminated {
			return
		}
	}
	for _, qg := range st.queue {
		s.failGroup(st, qg, NewWorkerFailureError("", "no workers left", nil))
	}
	st.queue = nil
}

// failGroup records a group that never completed normally. Breakers are
// not charged here: they track execution outcomes, not scheduling ones.
func (s *Scheduler) failGroup(st *runState, qg *queuedGroup, cause error) {
	result := models.GroupResult{
		GroupID:  qg.group.ID,
		Status:   models.StatusFailed,
		Warnings: []string{cause.Error()},
	}
	for _, path := range qg.group.UnitPaths() {
		result.Units = append(result.Units, models.UnitResult{
			Path:   path,
			Status: models.StatusFailed,
			Error:  cause,
		})
		st.failed++
	}
	st.completed = append(st.completed, result)
	st.lastProgress = time.Now()
	s.warnf("group %s failed: %v", qg.group.ID, cause)
}

// onTick runs the periodic duties: heartbeat staleness, respawns, usage
// sampling, degradation evaluation, and a deadlock scan.
func (s *Scheduler) onTick(st *runState, now time.Time) {
	for _, sl := range st.slots {
		switch sl.state {
		case WorkerError:
			if !sl.respawnAt.IsZero() && now.After(sl.respawnAt) {
				s.respawn(st, sl)
			}
		case WorkerRunning, WorkerIdle, WorkerInitializing:
			age := now.Sub(sl.lastBeat)
			if age > 2*s.config.HeartbeatTimeout {
				s.warnf("worker %s heartbeat %s stale, forcing restart", sl.id, age.Round(time.Millisecond))
				s.emit(events.TypeWorkerRestarted, sl.id)
				s.failSlot(st, sl, NewWorkerFailureError(sl.id, "heartbeat lost", nil))
			} else if age > s.config.HeartbeatTimeout && !sl.warned {
				sl.warned = true
				s.warnf("worker %s heartbeat %s stale", sl.id, age.Round(time.Millisecond))
			}
		}
	}

	if s.governor != nil {
		s.governor.SampleUsage()
	}

	level, changed := s.degradation.Evaluate(s.currentMetrics(st), now)
	if changed {
		s.warnf("degradation %s", s.degradation.Describe())
		s.emit(events.TypeDegradation, level)
		if s.degradation.Action() == ActionHalt {
			st.halted = true
		}
	}

	for _, dl := range s.detector.Scan() {
		s.warnf("%v", dl)
		s.emit(events.TypeDeadlock, dl.Cycle)
	}
}

// respawn brings an errored slot back as a fresh incarnation, carrying the
// slot's restart count and accumulated load forward.
func (s *Scheduler) respawn(st *runState, sl *slot) {
	sl.restarts++
	fresh := s.spawnSlot(st, sl.index)
	fresh.restarts = sl.restarts
	fresh.load = sl.load
	st.slots[sl.index] = fresh
	s.warnf("worker slot %d restarted as %s (restart %d)", sl.index, fresh.id, fresh.restarts)
}

func (s *Scheduler) spawnSlot(st *runState, index int) *slot {
	id := fmt.Sprintf("worker-%d-%s", index, uuid.NewString()[:8])
	workerCtx, cancel := context.WithCancel(st.runCtx)
	w := newWorker(id, st.workerEvents, s.runner, workerConfig{
		heartbeatInterval: s.config.HeartbeatInterval,
		unitTimeout:       s.config.UnitTimeout,
		maxUnitRetries:    s.config.MaxUnitRetries,
	})
	sl := &slot{
		index:    index,
		id:       id,
		w:        w,
		cancel:   cancel,
		state:    WorkerInitializing,
		lastBeat: time.Now(),
	}
	st.byID[id] = sl
	go w.loop(workerCtx)
	return sl
}

// shutdown tears the pool down and marks unfinished work skipped.
func (s *Scheduler) shutdown(st *runState, cancelWorkers context.CancelFunc) {
	cancelWorkers()
	for _, sl := range st.slots {
		if sl.current != nil {
			s.release(sl.allocIDs)
			s.skipGroup(st, sl.current, "run cancelled")
			sl.current = nil
		}
	}
	s.skipRemaining(st, "run cancelled")
}

func (s *Scheduler) skipRemaining(st *runState, reason string) {
	for _, qg := range st.queue {
		s.skipGroup(st, qg, reason)
	}
	st.queue = nil
}

func (s *Scheduler) skipGroup(st *runState, qg *queuedGroup, reason string) {
	result := models.GroupResult{
		GroupID:  qg.group.ID,
		Status:   models.StatusSkipped,
		Warnings: []string{reason},
	}
	for _, path := range qg.group.UnitPaths() {
		result.Units = append(result.Units, models.UnitResult{Path: path, Status: models.StatusSkipped})
		st.skipped++
	}
	st.completed = append(st.completed, result)
}

// currentMetrics assembles the degradation triple from run counters and the
// governor's memory pool.
func (s *Scheduler) currentMetrics(st *runState) HealthMetrics {
	m := HealthMetrics{}
	executed := st.passed + st.failed
	if executed > 0 {
		m.ErrorRate = float64(st.failed) / float64(executed)
	}
	if s.governor != nil {
		if snap, ok := s.governor.Snapshot(resource.PoolMemoryMB); ok && snap.Total > 0 {
			m.MemoryUsage = float64(snap.Allocated) / float64(snap.Total)
		}
	}
	if len(st.completed) > 0 {
		m.ResponseTime = st.groupDurations / time.Duration(len(st.completed))
	}
	return m
}

func (s *Scheduler) breakerBlocked(group *models.TestGroup) string {
	for _, key := range breakerKeys(group) {
		if !s.breakers.Get(key).Allow() {
			return key
		}
	}
	return ""
}

// breakerKeys names the shared resources a group's outcome should be
// charged against.
func breakerKeys(group *models.TestGroup) []string {
	if group.Resources.DBConnections > 0 {
		return []string{"database"}
	}
	return nil
}

// leastLoadedIdle picks the idle worker with the least accumulated load.
func (s *Scheduler) leastLoadedIdle(st *runState) *slot {
	var best *slot
	for _, sl := range st.slots {
		if sl.state != WorkerIdle {
			continue
		}
		if best == nil || sl.load < best.load {
			best = sl
		}
	}
	return best
}

func (s *Scheduler) runningCount(st *runState) int {
	n := 0
	for _, sl := range st.slots {
		if sl.state == WorkerRunning {
			n++
		}
	}
	return n
}

func (s *Scheduler) anyRunning(st *runState) bool {
	return s.runningCount(st) > 0
}

func (s *Scheduler) runComplete(st *runState) bool {
	if len(st.queue) > 0 {
		return false
	}
	for _, sl := range st.slots {
		if sl.current != nil {
			return false
		}
	}
	return true
}

func (s *Scheduler) removeFromQueue(st *runState, qi int) {
	st.queue = append(st.queue[:qi], st.queue[qi+1:]...)
}

func (s *Scheduler) emit(t events.Type, payload interface{}) {
	if s.bus != nil {
		s.bus.Emit(t, payload)
	}
}

func (s *Scheduler) infof(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.LogInfo(fmt.Sprintf(format, args...))
	}
}

func (s *Scheduler) warnf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.LogWarn(fmt.Sprintf(format, args...))
	}
}

func sortQueue(queue []*queuedGroup) {
	sort.SliceStable(queue, func(i, j int) bool {
		return groupLess(queue[i].group, queue[j].group)
	})
}
