package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvariantViolation is returned by ScanResult.Verify when the result
// set does not match its own counters.
var ErrInvariantViolation = errors.New("scan result invariant violated")

// Result pairs a dispatched Target with its Outcome.
type Result struct {
	// Index is the dispatch index of the target (its position in the source list).
	Index int

	// Target is the probed target.
	Target Target

	// Outcome is the classification of the probe.
	Outcome Outcome
}

// resultRecord is the flat wire form of a Result.
type resultRecord struct {
	Index int `json:"index"`
	Target
	outcomeRecord
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	rec, err := newOutcomeRecord(r.Outcome)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resultRecord{Index: r.Index, Target: r.Target, outcomeRecord: rec})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var rec resultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	o, err := rec.toOutcome()
	if err != nil {
		return err
	}
	*r = Result{Index: rec.Index, Target: rec.Target, Outcome: o}
	return nil
}

// ScanResult is the complete output of one scan.
// It is assembled once after every dispatched probe has terminated and is
// not modified afterwards.
type ScanResult struct {
	// ID uniquely identifies the scan.
	ID string `json:"id"`

	// Results holds one entry per dispatched target, ordered by dispatch index.
	Results []Result `json:"results"`

	// RequestedCount is the number of targets the source produced.
	RequestedCount int `json:"requested_count"`

	// DispatchedCount is the number of targets actually probed.
	DispatchedCount int `json:"dispatched_count"`

	// WorkerCount is the configured size of the worker pool.
	WorkerCount int `json:"worker_count"`

	// Cap is the configured limit on dispatched targets; 0 means no limit.
	Cap int `json:"cap,omitempty"`

	// Timeout is the per-probe deadline.
	Timeout time.Duration `json:"timeout_ns"`

	// StartedAt is when scheduling began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the last outcome was recorded.
	FinishedAt time.Time `json:"finished_at"`

	// Partial is set when the scan was aborted before every dispatched
	// target resolved; Results then holds only the resolved outcomes.
	Partial bool `json:"partial,omitempty"`
}

// NewScanResult creates a ScanResult with a fresh ID.
func NewScanResult(requested, workers, limit int, timeout time.Duration) *ScanResult {
	return &ScanResult{
		ID:             uuid.NewString(),
		Results:        make([]Result, 0),
		RequestedCount: requested,
		WorkerCount:    workers,
		Cap:            limit,
		Timeout:        timeout,
	}
}

// Duration returns the wall-clock time the scan took.
func (s *ScanResult) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ExpectedDispatch returns how many targets should be dispatched given
// the requested count and cap.
func ExpectedDispatch(requested, limit int) int {
	if limit > 0 && limit < requested {
		return limit
	}
	return requested
}

// Verify checks the counting invariants of the result set.
func (s *ScanResult) Verify() error {
	if s.DispatchedCount != len(s.Results) {
		return fmt.Errorf("%w: dispatched %d but %d results",
			ErrInvariantViolation, s.DispatchedCount, len(s.Results))
	}
	if s.DispatchedCount > s.RequestedCount {
		return fmt.Errorf("%w: dispatched %d of %d requested",
			ErrInvariantViolation, s.DispatchedCount, s.RequestedCount)
	}
	if !s.Partial {
		if want := ExpectedDispatch(s.RequestedCount, s.Cap); s.DispatchedCount != want {
			return fmt.Errorf("%w: dispatched %d, expected %d",
				ErrInvariantViolation, s.DispatchedCount, want)
		}
	}
	seen := make(map[int]bool, len(s.Results))
	prev := -1
	for _, r := range s.Results {
		if seen[r.Index] {
			return fmt.Errorf("%w: index %d reported twice", ErrInvariantViolation, r.Index)
		}
		if r.Index <= prev {
			return fmt.Errorf("%w: index %d out of dispatch order", ErrInvariantViolation, r.Index)
		}
		if r.Outcome == nil {
			return fmt.Errorf("%w: index %d has no outcome", ErrInvariantViolation, r.Index)
		}
		seen[r.Index] = true
		prev = r.Index
	}
	return nil
}

// Summary counts results per Status.
type Summary struct {
	Reachable      int `json:"reachable"`
	Unreachable    int `json:"unreachable"`
	TimedOut       int `json:"timed_out"`
	TransportError int `json:"transport_error"`
}

// Summarize counts the results of the scan per Status.
func (s *ScanResult) Summarize() Summary {
	var sum Summary
	for _, r := range s.Results {
		switch r.Outcome.(type) {
		case Reachable:
			sum.Reachable++
		case Unreachable:
			sum.Unreachable++
		case TimedOut:
			sum.TimedOut++
		case TransportError:
			sum.TransportError++
		}
	}
	return sum
}

// Count returns the number of results with the given status.
func (s Summary) Count(status Status) int {
	switch status {
	case StatusReachable:
		return s.Reachable
	case StatusUnreachable:
		return s.Unreachable
	case StatusTimedOut:
		return s.TimedOut
	case StatusTransportError:
		return s.TransportError
	default:
		return 0
	}
}

// Total returns the number of counted results.
func (s Summary) Total() int {
	return s.Reachable + s.Unreachable + s.TimedOut + s.TransportError
}

// Failed returns the number of results that were not reachable.
func (s Summary) Failed() int {
	return s.Total() - s.Reachable
}
