package grouping

import (
	"errors"
	"fmt"
)

// ConflictViolationError reports two conflicting units sharing a group that
// runs in parallel. The engine's compatibility rules make this impossible,
// so seeing one is an internal-consistency bug, not a user error.
type ConflictViolationError struct {
	GroupID     string // group holding the conflicting pair
	UnitA       string // first unit path
	UnitB       string // second unit path
	Parallelism int    // the group's max parallelism
}

// Error implements the error interface for ConflictViolationError.
func (e *ConflictViolationError) Error() string {
	return fmt.Sprintf("group %s: conflicting units %s and %s grouped with parallelism %d (internal consistency bug)",
		e.GroupID, e.UnitA, e.UnitB, e.Parallelism)
}

// IsConflictViolation checks if the error is or wraps a ConflictViolationError.
func IsConflictViolation(err error) bool {
	if err == nil {
		return false
	}
	var cv *ConflictViolationError
	return errors.As(err, &cv)
}
