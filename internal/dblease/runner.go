package dblease

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/scheduler"
)

// LeasedRunner brackets transaction-isolated units with a leased connection:
// acquire and begin before the unit runs, commit when it passes, rollback
// otherwise. Units without transaction isolation pass straight through to
// the inner runner.
type LeasedRunner struct {
	inner     scheduler.UnitRunner
	manager   *Manager
	Isolation sql.IsolationLevel
}

// WrapRunner decorates a unit runner with lease bracketing. A nil manager
// disables bracketing entirely.
func WrapRunner(inner scheduler.UnitRunner, manager *Manager) *LeasedRunner {
	return &LeasedRunner{
		inner:     inner,
		manager:   manager,
		Isolation: sql.LevelSerializable,
	}
}

// Run executes the unit, holding a lease for its duration when the unit
// demands transaction isolation. Lease shortage and begin failures are
// runner errors (the environment broke, not the unit), so the scheduler's
// retry machinery applies.
func (r *LeasedRunner) Run(ctx context.Context, unit *models.UnitAnalysis) (*models.UnitResult, error) {
	if r.manager == nil || !transactionIsolated(unit) {
		return r.inner.Run(ctx, unit)
	}

	lease, err := r.manager.Acquire(ctx, unit.Path)
	if err != nil {
		return nil, fmt.Errorf("lease for %s: %w", unit.Path, err)
	}
	defer lease.Release()

	if err := lease.Begin(ctx, r.Isolation); err != nil {
		return nil, fmt.Errorf("lease transaction for %s: %w", unit.Path, err)
	}

	result, err := r.inner.Run(ctx, unit)
	if err != nil {
		lease.Rollback()
		return nil, err
	}

	if result.Status == models.StatusPassed {
		if commitErr := lease.Commit(); commitErr != nil {
			// The unit's work was discarded: a timed-out or failed commit
			// is the unit's failure, with the cause attached.
			result.Status = models.StatusFailed
			result.Error = commitErr
		}
	} else {
		lease.Rollback()
	}
	return result, nil
}

func transactionIsolated(unit *models.UnitAnalysis) bool {
	return unit.Isolation.Required && unit.Isolation.Type == models.IsolationTransaction
}
