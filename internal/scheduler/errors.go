package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// WorkerFailureError represents a worker crash or unexpected exit. The
// scheduler recovers from these with bounded restarts; exhausting the
// budget surfaces the error in the run report.
type WorkerFailureError struct {
	WorkerID  string    // Worker that failed
	Message   string    // Human-readable failure description
	Err       error     // Underlying error (optional)
	Timestamp time.Time // When the failure was observed
}

// NewWorkerFailureError creates a WorkerFailureError with the current timestamp.
func NewWorkerFailureError(workerID, msg string, err error) *WorkerFailureError {
	return &WorkerFailureError{
		WorkerID:  workerID,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for WorkerFailureError.
func (e *WorkerFailureError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("worker %s: %s", e.WorkerID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *WorkerFailureError) Unwrap() error {
	return e.Err
}

// IsWorkerFailure checks if the error is or wraps a WorkerFailureError.
func IsWorkerFailure(err error) bool {
	if err == nil {
		return false
	}
	var wf *WorkerFailureError
	return errors.As(err, &wf)
}

// BreakerOpenError reports a group rejected because the circuit breaker for
// one of its resources is open.
type BreakerOpenError struct {
	Resource string // Breaker id that rejected the call
	GroupID  string // Group that was turned away
}

// Error implements the error interface for BreakerOpenError.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s: group %s rejected", e.Resource, e.GroupID)
}

// IsBreakerOpen checks if the error is or wraps a BreakerOpenError.
func IsBreakerOpen(err error) bool {
	if err == nil {
		return false
	}
	var bo *BreakerOpenError
	return errors.As(err, &bo)
}

// DeadlockDetectedError reports a cycle in the waits-for graph. Deadlocks
// are surfaced, never auto-resolved.
type DeadlockDetectedError struct {
	Cycle []string // Participants in detection order, first repeated last
}

// Error implements the error interface for DeadlockDetectedError.
func (e *DeadlockDetectedError) Error() string {
	return fmt.Sprintf("deadlock detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnschedulableError reports a group whose resource needs exceed every
// worker ceiling. No amount of waiting can place it.
type UnschedulableError struct {
	GroupID string
	Reason  string
}

// Error implements the error interface for UnschedulableError.
func (e *UnschedulableError) Error() string {
	return fmt.Sprintf("group %s cannot be scheduled: %s", e.GroupID, e.Reason)
}
