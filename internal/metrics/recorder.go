package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/onionprobe/internal/model"
	"github.com/nao1215/onionprobe/internal/probe"
)

var _ probe.Observer = (*Recorder)(nil)

// Recorder collects probe and scan metrics.
type Recorder struct {
	registry *prometheus.Registry

	probesTotal    *prometheus.CounterVec
	probeLatency   prometheus.Histogram
	probesInFlight prometheus.Gauge
	scanDuration   prometheus.Gauge
	scanTargets    *prometheus.GaugeVec
	scanPartial    prometheus.Gauge
	lastScanTime   prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
	}

	r.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionprobe_probes_total",
			Help: "Number of finished probes by outcome status",
		},
		[]string{"status"},
	)
	r.probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "onionprobe_probe_latency_seconds",
		Help:    "Time to open a circuit to reachable onion services",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
	})
	r.probesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onionprobe_probes_in_flight",
		Help: "Number of probes currently running",
	})
	r.scanDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onionprobe_scan_duration_seconds",
		Help: "Wall-clock duration of the last scan",
	})
	r.scanTargets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onionprobe_scan_targets",
			Help: "Targets of the last scan by kind (requested or dispatched)",
		},
		[]string{"kind"},
	)
	r.scanPartial = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onionprobe_scan_partial",
		Help: "1 if the last scan was aborted before all probes resolved",
	})
	r.lastScanTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onionprobe_last_scan_timestamp_seconds",
		Help: "Unix time the last scan finished",
	})

	collectors := []prometheus.Collector{
		r.probesTotal,
		r.probeLatency,
		r.probesInFlight,
		r.scanDuration,
		r.scanTargets,
		r.scanPartial,
		r.lastScanTime,
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	// Export every status even when no probe produced it.
	for _, status := range model.AllStatuses {
		r.probesTotal.WithLabelValues(status.String())
	}

	return r, nil
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ProbeStarted implements probe.Observer.
func (r *Recorder) ProbeStarted(model.Target) {
	r.probesInFlight.Inc()
}

// ProbeFinished implements probe.Observer.
func (r *Recorder) ProbeFinished(result model.Result) {
	r.probesInFlight.Dec()
	r.probesTotal.WithLabelValues(result.Outcome.Status().String()).Inc()
	if reachable, ok := result.Outcome.(model.Reachable); ok {
		r.probeLatency.Observe(reachable.Latency.Seconds())
	}
}

// ObserveScan records the totals of a finished or aborted scan.
// No probe is in flight once a scan has returned, including probes that an
// aborted scan started but never resolved.
func (r *Recorder) ObserveScan(scan *model.ScanResult) {
	r.probesInFlight.Set(0)
	r.scanDuration.Set(scan.Duration().Seconds())
	r.scanTargets.WithLabelValues("requested").Set(float64(scan.RequestedCount))
	r.scanTargets.WithLabelValues("dispatched").Set(float64(scan.DispatchedCount))
	if scan.Partial {
		r.scanPartial.Set(1)
	} else {
		r.scanPartial.Set(0)
	}
	if !scan.FinishedAt.IsZero() {
		r.lastScanTime.Set(float64(scan.FinishedAt.Unix()))
	}
}

// WriteTextfile writes the registry to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
