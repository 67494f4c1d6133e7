package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/nao1215/onionprobe/internal/model"
)

// Aggregator collects exactly one outcome per dispatched index.
//
// Outcomes may arrive in any order and from any number of goroutines.
// Each index owns one slot; a slot is written once and never overwritten.
// A second write, a write outside the dispatched range, or a nil outcome is
// a scheduler fault.
type Aggregator struct {
	mu       sync.Mutex
	outcomes []model.Outcome
	pending  int
	fault    *FaultError

	// complete is closed when the last pending index resolves.
	complete chan struct{}

	// faulted is closed when the first fault is recorded.
	faulted chan struct{}
}

// NewAggregator creates an Aggregator expecting outcomes for indices
// 0 through expected-1. An Aggregator expecting nothing is complete at once.
func NewAggregator(expected int) *Aggregator {
	if expected < 0 {
		expected = 0
	}

	a := &Aggregator{
		outcomes: make([]model.Outcome, expected),
		pending:  expected,
		complete: make(chan struct{}),
		faulted:  make(chan struct{}),
	}
	if expected == 0 {
		close(a.complete)
	}

	return a
}

// Record stores the outcome for index.
// It returns a *FaultError when the write would violate exactly-once
// delivery; the stored state is left untouched in that case.
func (a *Aggregator) Record(index int, outcome model.Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	switch {
	case index < 0 || index >= len(a.outcomes):
		err = fmt.Errorf("%w: index %d, expected %d outcomes", ErrIndexOutOfRange, index, len(a.outcomes))
	case outcome == nil:
		err = fmt.Errorf("%w: index %d", ErrNilOutcome, index)
	case a.outcomes[index] != nil:
		err = fmt.Errorf("%w: index %d already resolved as %s",
			ErrDuplicateOutcome, index, a.outcomes[index].Status())
	}
	if err != nil {
		return a.raise(err)
	}

	a.outcomes[index] = outcome
	a.pending--
	if a.pending == 0 {
		close(a.complete)
	}

	return nil
}

// raise records the first fault and returns it. Later faults are returned
// to their caller but do not replace the first one. Callers hold a.mu.
func (a *Aggregator) raise(err error) *FaultError {
	fault := &FaultError{Err: err}
	if a.fault == nil {
		a.fault = fault
		close(a.faulted)
	}
	return fault
}

// Wait blocks until every expected index has an outcome.
// It returns early with the first recorded fault, or with ctx.Err() when
// the context ends first.
func (a *Aggregator) Wait(ctx context.Context) error {
	select {
	case <-a.complete:
	case <-a.faulted:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fault != nil {
		return a.fault
	}
	return nil
}

// Pending returns the number of indices still waiting for an outcome.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Results returns one Result per index in dispatch order.
// targets must be the dispatched slice the indices refer to.
// It fails with ErrIncompleteScan while any index is unresolved.
func (a *Aggregator) Results(targets []model.Target) ([]model.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending > 0 {
		return nil, fmt.Errorf("%w: %d of %d pending", ErrIncompleteScan, a.pending, len(a.outcomes))
	}
	if len(targets) != len(a.outcomes) {
		return nil, fmt.Errorf("%w: %d targets for %d outcomes", ErrIndexOutOfRange, len(targets), len(a.outcomes))
	}

	return a.collect(targets), nil
}

// Resolved returns the results resolved so far in dispatch order,
// skipping indices that have no outcome yet.
func (a *Aggregator) Resolved(targets []model.Target) []model.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collect(targets)
}

// collect builds results for every resolved slot. Callers hold a.mu.
func (a *Aggregator) collect(targets []model.Target) []model.Result {
	results := make([]model.Result, 0, len(a.outcomes)-a.pending)
	for i, outcome := range a.outcomes {
		if outcome == nil || i >= len(targets) {
			continue
		}
		results = append(results, model.Result{
			Index:   i,
			Target:  targets[i],
			Outcome: outcome,
		})
	}
	return results
}
