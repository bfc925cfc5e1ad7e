package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// WorkerState tracks where a worker is in its lifecycle.
type WorkerState int

const (
	// WorkerInitializing covers spawn until the worker signals ready.
	WorkerInitializing WorkerState = iota
	// WorkerIdle means the worker is ready for an assignment.
	WorkerIdle
	// WorkerRunning means the worker is executing a group.
	WorkerRunning
	// WorkerError means the worker failed and is awaiting restart.
	WorkerError
	// WorkerTerminated means the worker is gone and will not restart.
	WorkerTerminated
)

// String returns the string representation of WorkerState.
func (s WorkerState) String() string {
	switch s {
	case WorkerInitializing:
		return "initializing"
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerError:
		return "error"
	case WorkerTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WorkerCeiling bounds what one worker may take on. Isolation names the
// strongest isolation type the worker can provide.
type WorkerCeiling struct {
	MemoryMB      int
	DBConnections int
	Isolation     models.IsolationType
}

// isolationRank orders isolation types by strength for ceiling checks.
// The zero value (no isolation) ranks 0 via the missing-key default.
var isolationRank = map[models.IsolationType]int{
	models.IsolationNamespace:   1,
	models.IsolationTransaction: 2,
	models.IsolationSchema:      3,
	models.IsolationDatabase:    4,
}

// CanIsolate reports whether the ceiling covers the requested isolation.
func (c WorkerCeiling) CanIsolate(t models.IsolationType) bool {
	return isolationRank[c.Isolation] >= isolationRank[t]
}

// Fits reports whether a group's aggregate needs sit within the ceiling.
// The isolation check uses the strongest requirement across the group's
// units since relaxed grouping may mix isolation types.
func (c WorkerCeiling) Fits(group *models.TestGroup) bool {
	if group.Resources.MemoryMB > c.MemoryMB {
		return false
	}
	if group.Resources.DBConnections > c.DBConnections {
		return false
	}
	for i := range group.Units {
		iso := group.Units[i].Isolation
		if iso.Required && !c.CanIsolate(iso.Type) {
			return false
		}
	}
	return true
}

// assignment hands one group and its granted allocations to a worker.
type assignment struct {
	group    *models.TestGroup
	allocIDs []string
}

// workerEventKind discriminates messages workers send the coordinator.
type workerEventKind int

const (
	eventReady workerEventKind = iota
	eventHeartbeat
	eventGroupDone
)

// workerEvent is the only thing a worker shares with the coordinator. All
// bookkeeping stays on the coordinator side of the channel.
type workerEvent struct {
	kind     workerEventKind
	workerID string
	result   *models.GroupResult
	err      error // non-nil marks a worker failure, not a unit verdict
}

// workerConfig is the slice of scheduler config a worker needs.
type workerConfig struct {
	heartbeatInterval time.Duration
	unitTimeout       time.Duration
	maxUnitRetries    int
}

// worker executes one group at a time. It owns no shared state: assignments
// arrive on the mailbox, status leaves on the events channel, and the
// coordinator kills it by cancelling its context.
type worker struct {
	id      string
	mailbox chan assignment
	events  chan<- workerEvent
	runner  UnitRunner
	config  workerConfig
}

func newWorker(id string, events chan<- workerEvent, runner UnitRunner, config workerConfig) *worker {
	return &worker{
		id:      id,
		mailbox: make(chan assignment, 1),
		events:  events,
		runner:  runner,
		config:  config,
	}
}

// loop is the worker goroutine body.
func (w *worker) loop(ctx context.Context) {
	heartbeat := time.NewTicker(w.config.heartbeatInterval)
	defer heartbeat.Stop()

	w.send(ctx, workerEvent{kind: eventReady, workerID: w.id})

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			w.send(ctx, workerEvent{kind: eventHeartbeat, workerID: w.id})
		case a, ok := <-w.mailbox:
			if !ok {
				return
			}
			result, err := w.runGroup(ctx, a, heartbeat)
			w.send(ctx, workerEvent{kind: eventGroupDone, workerID: w.id, result: result, err: err})
		}
	}
}

// send delivers an event unless the worker is being torn down.
func (w *worker) send(ctx context.Context, ev workerEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// runGroup executes the group's units with up to MaxParallelism in flight,
// keeping heartbeats flowing while it collects results. A runner breakdown
// aborts the group and surfaces as a worker failure.
func (w *worker) runGroup(ctx context.Context, a assignment, heartbeat *time.Ticker) (result *models.GroupResult, failure error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			failure = NewWorkerFailureError(w.id, fmt.Sprintf("panic while running group %s", a.group.ID), fmt.Errorf("%v", r))
		}
	}()

	parallelism := a.group.MaxParallelism
	if parallelism <= 0 || parallelism > len(a.group.Units) {
		parallelism = len(a.group.Units)
	}
	if parallelism == 0 {
		parallelism = 1
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	semaphore := make(chan struct{}, parallelism)
	resultsCh := make(chan *models.UnitResult, len(a.group.Units))
	errCh := make(chan error, len(a.group.Units))

	var wg sync.WaitGroup
	var launched int

launch:
	for _, unit := range a.group.Units {
		select {
		case <-groupCtx.Done():
			break launch
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		launched++
		go func(u *models.UnitAnalysis) {
			defer wg.Done()
			defer func() { <-semaphore }()

			res, err := w.runUnit(groupCtx, u)
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				cancel()
				return
			}
			resultsCh <- res
		}(unit)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	group := &models.GroupResult{
		GroupID:     a.group.ID,
		WorkerID:    w.id,
		Parallelism: parallelism,
	}

collect:
	for {
		select {
		case <-heartbeat.C:
			w.send(ctx, workerEvent{kind: eventHeartbeat, workerID: w.id})
		case res := <-resultsCh:
			group.Units = append(group.Units, *res)
		case <-done:
			break collect
		}
	}

	// Drain results delivered between the last select pass and done.
	for {
		select {
		case res := <-resultsCh:
			group.Units = append(group.Units, *res)
		default:
			group.Duration = time.Since(start)

			select {
			case err := <-errCh:
				return nil, NewWorkerFailureError(w.id, "unit runner failed", err)
			default:
			}

			group.Status = models.StatusPassed
			if len(group.Units) < launched || len(group.Failed()) > 0 {
				group.Status = models.StatusFailed
			}
			return group, nil
		}
	}
}

// runUnit executes a single unit under the unit timeout, retrying failures
// up to the retry budget.
func (w *worker) runUnit(ctx context.Context, unit *models.UnitAnalysis) (*models.UnitResult, error) {
	var last *models.UnitResult
	for attempt := 0; attempt <= w.config.maxUnitRetries; attempt++ {
		unitCtx := ctx
		var cancel context.CancelFunc
		if w.config.unitTimeout > 0 {
			unitCtx, cancel = context.WithTimeout(ctx, w.config.unitTimeout)
		}

		res, err := w.runner.Run(unitCtx, unit)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return nil, err
		}

		res.RetryCount = attempt
		last = res
		if res.Status == models.StatusPassed {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, nil
		}
	}
	return last, nil
}
