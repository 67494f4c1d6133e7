// Package model defines the data structures shared by the prober packages.
//
// This package contains the following main types:
//   - Target: one onion endpoint to probe, tagged with its origin
//   - Outcome: the closed set of probe classifications
//     (Reachable, Unreachable, TimedOut, TransportError)
//   - Result: a dispatched Target paired with its Outcome
//   - ScanResult: the ordered result set of one scan plus scan metadata
//
// The models serialize to JSON for report output and history storage.
package model
