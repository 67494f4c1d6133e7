// Package metrics records scan metrics in a private Prometheus registry.
//
// Recorder implements probe.Observer so it can be attached to a Scheduler.
// After the scan the registry can be written in the text exposition format
// for the node_exporter textfile collector.
package metrics
