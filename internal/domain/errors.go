package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the safety pipeline and state machine. Callers match
// with errors.Is; blocking errors always carry their reason into the work
// item's audit history.
var (
	// ErrInvalidTransition marks an illegal state-machine edge. Always a
	// caller bug, never retried.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRateLimitExceeded is transient; callers retry after the delay
	// attached to the gate decision.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBudgetExceeded is a hard block until day rollover.
	ErrBudgetExceeded = errors.New("daily budget exceeded")

	// ErrGuardBlocked is a hard block from a guard with an attached cause.
	ErrGuardBlocked = errors.New("blocked by safety guard")

	// ErrApprovalDenied ends the gated attempt.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrApprovalExpired is treated like a denial but recorded distinctly.
	ErrApprovalExpired = errors.New("approval expired")

	// ErrAlreadyResolved rejects a decision on a terminal approval request.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrApprovalNotFound marks an unknown approval request id.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrRollbackTargetNotFound is operator-facing; other rollback records
	// stay intact.
	ErrRollbackTargetNotFound = errors.New("rollback target not found")

	// ErrCacheCorruption is recoverable: the cache clears itself and the
	// pipeline continues.
	ErrCacheCorruption = errors.New("cache corruption detected")

	// ErrConcurrencyCeiling holds an item in pending when the engine is at
	// its configured ceiling of in-flight items.
	ErrConcurrencyCeiling = errors.New("concurrency ceiling reached")

	// ErrItemNotFound marks an unknown work item id.
	ErrItemNotFound = errors.New("work item not found")
)

// InvalidTransitionError wraps ErrInvalidTransition with the offending edge.
func InvalidTransitionError(from, to ItemState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
