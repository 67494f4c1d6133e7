package model

import (
	"fmt"
	"time"
)

// unknownStr is the string representation for unknown values.
const unknownStr = "unknown"

// Status is the tag of an Outcome variant.
type Status int

const (
	// StatusReachable means a connection to the onion service was established.
	StatusReachable Status = iota + 1
	// StatusUnreachable means Tor answered but the service could not be reached.
	StatusUnreachable
	// StatusTimedOut means no answer arrived before the per-probe deadline.
	StatusTimedOut
	// StatusTransportError means the probe could not be carried out at all.
	StatusTransportError
)

// AllStatuses lists every Status in display order.
var AllStatuses = []Status{
	StatusReachable,
	StatusUnreachable,
	StatusTimedOut,
	StatusTransportError,
}

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusReachable:
		return "reachable"
	case StatusUnreachable:
		return "unreachable"
	case StatusTimedOut:
		return "timed_out"
	case StatusTransportError:
		return "transport_error"
	default:
		return unknownStr
	}
}

// ParseStatus converts the string form produced by Status.String back to a Status.
func ParseStatus(s string) (Status, error) {
	for _, status := range AllStatuses {
		if status.String() == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown probe status %q", s)
}

// Outcome is the result of attempting to reach exactly one Target.
//
// The set of implementations is closed: Reachable, Unreachable, TimedOut
// and TransportError. Consumers switch on the concrete type and must handle
// all four.
type Outcome interface {
	// Status returns the variant tag.
	Status() Status

	// Detail returns a short human-readable description of the outcome.
	Detail() string

	outcome()
}

// Reachable means a connection was established through Tor.
type Reachable struct {
	// Latency is the time from dial start until the connection was established.
	Latency time.Duration
}

// Unreachable means Tor answered the request but could not reach the service.
type Unreachable struct {
	// Reason is the failure reported by Tor (e.g., "host unreachable").
	Reason string
}

// TimedOut means the per-probe deadline expired before the transport answered.
type TimedOut struct {
	// After is the deadline that expired.
	After time.Duration
}

// TransportError means the probe could not be performed
// (malformed address, proxy failure, panicking transport...).
type TransportError struct {
	// Message describes the error.
	Message string
}

// Status implements Outcome.
func (Reachable) Status() Status { return StatusReachable }

// Status implements Outcome.
func (Unreachable) Status() Status { return StatusUnreachable }

// Status implements Outcome.
func (TimedOut) Status() Status { return StatusTimedOut }

// Status implements Outcome.
func (TransportError) Status() Status { return StatusTransportError }

// Detail implements Outcome.
func (o Reachable) Detail() string {
	return "connected in " + o.Latency.Round(time.Millisecond).String()
}

// Detail implements Outcome.
func (o Unreachable) Detail() string { return o.Reason }

// Detail implements Outcome.
func (o TimedOut) Detail() string {
	return "no answer within " + o.After.String()
}

// Detail implements Outcome.
func (o TransportError) Detail() string { return o.Message }

func (Reachable) outcome()      {}
func (Unreachable) outcome()    {}
func (TimedOut) outcome()       {}
func (TransportError) outcome() {}

// outcomeRecord is the flat wire form of an Outcome.
type outcomeRecord struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	TimeoutMS float64 `json:"timeout_ms,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// newOutcomeRecord flattens an Outcome for serialization.
func newOutcomeRecord(o Outcome) (outcomeRecord, error) {
	switch v := o.(type) {
	case Reachable:
		return outcomeRecord{Status: v.Status().String(), LatencyMS: durationMS(v.Latency)}, nil
	case Unreachable:
		return outcomeRecord{Status: v.Status().String(), Reason: v.Reason}, nil
	case TimedOut:
		return outcomeRecord{Status: v.Status().String(), TimeoutMS: durationMS(v.After)}, nil
	case TransportError:
		return outcomeRecord{Status: v.Status().String(), Reason: v.Message}, nil
	default:
		return outcomeRecord{}, fmt.Errorf("unsupported outcome type %T", o)
	}
}

// toOutcome rebuilds the Outcome from its wire form.
func (r outcomeRecord) toOutcome() (Outcome, error) {
	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusReachable:
		return Reachable{Latency: msDuration(r.LatencyMS)}, nil
	case StatusUnreachable:
		return Unreachable{Reason: r.Reason}, nil
	case StatusTimedOut:
		return TimedOut{After: msDuration(r.TimeoutMS)}, nil
	case StatusTransportError:
		return TransportError{Message: r.Reason}, nil
	default:
		return nil, fmt.Errorf("unknown probe status %q", r.Status)
	}
}

// durationMS converts a duration to fractional milliseconds.
func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// msDuration converts fractional milliseconds to a duration.
func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
