// Package probe runs reachability probes against a list of targets with a
// bounded pool of workers.
//
// A Scheduler dispatches at most Config.Cap targets, in source order, to
// Config.Workers concurrent workers. Every probe runs under its own
// deadline and resolves to exactly one model.Outcome; per-target failures
// are data, not errors. An Aggregator collects the outcomes as they arrive
// and returns them in dispatch order.
//
// Scan-level failures are reported separately: a cancelled context aborts
// the scan, and an internal consistency violation surfaces as a
// *FaultError. Both return the partial result gathered so far.
package probe
