package resource

import (
	"errors"
	"fmt"
	"strings"
)

// AllocationFailureError reports a request the governor could not satisfy
// even after reclamation. It always carries requested vs available amounts
// and is never downgraded into a silent partial grant.
type AllocationFailureError struct {
	Requester string
	Type      PoolType
	Requested int64
	Available int64
}

// Error implements the error interface for AllocationFailureError.
func (e *AllocationFailureError) Error() string {
	return fmt.Sprintf("allocation failed for %s: %s requested %d, available %d",
		e.Requester, e.Type, e.Requested, e.Available)
}

// IsAllocationFailure checks if the error is or wraps an AllocationFailureError.
func IsAllocationFailure(err error) bool {
	if err == nil {
		return false
	}
	var af *AllocationFailureError
	return errors.As(err, &af)
}

// AllocationBatchError aggregates the failures of a partial allocation call.
// Returned alongside the successful allocations when allowPartial is set.
type AllocationBatchError struct {
	Failures []*AllocationFailureError
}

// Error implements the error interface for AllocationBatchError.
func (e *AllocationBatchError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d allocation(s) failed", len(e.Failures)))
	for _, f := range e.Failures {
		sb.WriteString(fmt.Sprintf("\n  - %s", f.Error()))
	}
	return sb.String()
}

// Unwrap returns the individual failures so errors.As can traverse them.
func (e *AllocationBatchError) Unwrap() []error {
	if len(e.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
