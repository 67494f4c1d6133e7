package probe

import (
	"errors"

	"github.com/nao1215/onionprobe/internal/model"
)

// Scheduler configuration errors.
// These are returned by NewScheduler before any probe is dispatched.
var (
	// ErrInvalidWorkerCount is returned when the worker count is not positive.
	// A zero-sized pool is rejected rather than coerced to one worker.
	ErrInvalidWorkerCount = errors.New("invalid worker count: must be at least 1")

	// ErrInvalidCap is returned when the target cap is negative.
	// Zero means no cap.
	ErrInvalidCap = errors.New("invalid cap: must be positive or unset")

	// ErrInvalidTimeout is returned when the per-probe timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid probe timeout: must be positive")

	// ErrInvalidRateLimit is returned when the rate limit is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrNilTransport is returned when no transport is supplied.
	ErrNilTransport = errors.New("transport is required")
)

// Scheduler faults.
// These indicate an internal consistency violation and are always wrapped
// in a *FaultError.
var (
	// ErrDuplicateOutcome is returned when a second outcome arrives for an
	// index that is already resolved.
	ErrDuplicateOutcome = errors.New("duplicate outcome for dispatch index")

	// ErrIndexOutOfRange is returned when an outcome arrives for an index
	// that was never dispatched.
	ErrIndexOutOfRange = errors.New("dispatch index out of range")

	// ErrNilOutcome is returned when a nil outcome is recorded.
	ErrNilOutcome = errors.New("nil outcome")

	// ErrIncompleteScan is returned when the pool stopped while some
	// dispatched indices still had no outcome.
	ErrIncompleteScan = errors.New("scan finished with unresolved targets")
)

// FaultError is a scan-level failure of the scheduler itself, as opposed
// to a per-target probe failure.
// Partial holds the outcomes that were resolved before the fault, in
// dispatch order, once the scheduler has assembled them.
type FaultError struct {
	// Err is the violated invariant.
	Err error

	// Partial is the result set gathered before the fault. It may be nil
	// when the fault is raised outside a scan (e.g., by an Aggregator used
	// on its own).
	Partial *model.ScanResult
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return "scheduler fault: " + e.Err.Error()
}

// Unwrap returns the violated invariant so callers can use errors.Is.
func (e *FaultError) Unwrap() error {
	return e.Err
}
