package models

import "time"

// Unit execution status constants
const (
	StatusPassed  = "PASSED"  // Unit completed successfully
	StatusFailed  = "FAILED"  // Unit ran and failed
	StatusTimeout = "TIMEOUT" // Unit exceeded its deadline
	StatusSkipped = "SKIPPED" // Unit never ran (degradation filter, halt)
)

// UnitResult is the outcome of executing a single test unit.
type UnitResult struct {
	Path          string        // Unit source path
	Status        string        // PASSED, FAILED, TIMEOUT, SKIPPED
	Output        string        // Captured runner output
	Error         error         // Error if execution failed
	Duration      time.Duration // Wall time for the unit
	MemoryMB      int           // Peak memory sampled during the run
	DBConnections int           // Connections held while running
	RetryCount    int           // Restarts attributable to this unit
}

// GroupResult aggregates the outcomes of one scheduled group.
type GroupResult struct {
	GroupID     string        // Group identifier
	WorkerID    string        // Worker that executed the group
	Units       []UnitResult  // Per-unit outcomes in completion order
	Status      string        // PASSED if all units passed, else FAILED
	Duration    time.Duration // Wall time for the whole group
	Parallelism int           // Batch width actually used
	Warnings    []string      // Non-fatal conditions (stale heartbeat, reclaim)
}

// Failed returns the member results that did not pass.
func (r *GroupResult) Failed() []UnitResult {
	var failed []UnitResult
	for _, u := range r.Units {
		if u.Status != StatusPassed && u.Status != StatusSkipped {
			failed = append(failed, u)
		}
	}
	return failed
}

// RunResult is the aggregate outcome of a full scheduler run.
type RunResult struct {
	RunID             string        // Unique run identifier
	TotalGroups       int           // Groups scheduled
	TotalUnits        int           // Units across all groups
	Passed            int           // Units that passed
	Failed            int           // Units that failed or timed out
	Skipped           int           // Units never executed
	Duration          time.Duration // Total wall time
	Groups            []GroupResult // Per-group details
	DegradationPeak   int           // Highest degradation level reached
	DeadlocksFound    int           // Cycles reported by the detector
	WorkerRestarts    int           // Forced and failure restarts combined
	AllocationDenials int           // Allocation requests that failed after reclamation
}

// Success reports whether every executed unit passed.
func (r *RunResult) Success() bool {
	return r.Failed == 0
}
