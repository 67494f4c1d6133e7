package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/onionprobe/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultWorkers is the default size of the worker pool.
const DefaultWorkers = 5

// Transport performs a single reachability attempt.
//
// The per-probe deadline is carried by ctx. Implementations must classify
// reachability failures as an Outcome and reserve the error return for
// conditions outside reachability semantics (e.g., the transport is not
// initialized). Implementations should stop work promptly when ctx ends;
// the scheduler does not wait for them once the deadline has passed.
type Transport interface {
	Probe(ctx context.Context, address string) (model.Outcome, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, address string) (model.Outcome, error)

// Probe implements Transport.
func (f TransportFunc) Probe(ctx context.Context, address string) (model.Outcome, error) {
	return f(ctx, address)
}

// Observer receives probe lifecycle events. Methods are called from worker
// goroutines and must be safe for concurrent use.
type Observer interface {
	// ProbeStarted is called right before the transport is invoked.
	ProbeStarted(target model.Target)

	// ProbeFinished is called once the outcome has been recorded.
	ProbeFinished(result model.Result)
}

// ProgressFunc is called after each recorded outcome with the number of
// outcomes recorded so far and the number of dispatched targets.
// It is called from worker goroutines and must be safe for concurrent use.
type ProgressFunc func(done, total int, result model.Result)

// Config is the scan configuration consumed by the Scheduler.
type Config struct {
	// Workers is the number of concurrent probes. It must be at least 1.
	Workers int

	// Cap limits how many targets, taken in source order, are probed.
	// Zero means every target is probed.
	Cap int

	// Timeout is the hard deadline of each probe.
	Timeout time.Duration

	// RateLimit limits how many probes start per second across the pool.
	// Zero means unlimited.
	RateLimit float64
}

// Validate checks the configuration and returns the first violated rule.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return ErrInvalidWorkerCount
	}
	if c.Cap < 0 {
		return ErrInvalidCap
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	return nil
}

// Scheduler probes a target list with a fixed-size pool of workers.
//
// Each worker repeatedly takes the next undispatched index from a shared
// cursor, so every dispatched target is probed exactly once and at most
// Workers probes are in flight. Outcomes go to an Aggregator, which
// rebuilds dispatch order regardless of completion order.
type Scheduler struct {
	transport Transport
	cfg       Config

	// limiter paces probe starts when RateLimit is set.
	limiter *rate.Limiter

	logger   *slog.Logger
	progress ProgressFunc
	observer Observer

	// now is the clock used for scan timestamps.
	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger for the scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithProgress registers a callback invoked after every recorded outcome.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scheduler) {
		s.progress = fn
	}
}

// WithObserver registers an Observer for probe lifecycle events.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// withClock replaces the scan clock. Used by tests.
func withClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a Scheduler from a validated configuration.
func NewScheduler(transport Transport, cfg Config, opts ...Option) (*Scheduler, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		transport: transport,
		cfg:       cfg,
		now:       time.Now,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Config returns the scheduler's configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Run probes targets and returns the complete, dispatch-ordered result set.
//
// Only the first Cap targets are dispatched when a cap is configured.
// Per-target failures never make Run fail. Run returns an error only when
// the scan itself is aborted: by ctx, or by a scheduler fault (*FaultError).
// In both cases the returned ScanResult is marked Partial and holds every
// outcome resolved before the abort.
func (s *Scheduler) Run(ctx context.Context, targets []model.Target) (*model.ScanResult, error) {
	dispatch := targets[:model.ExpectedDispatch(len(targets), s.cfg.Cap)]

	scan := model.NewScanResult(len(targets), s.cfg.Workers, s.cfg.Cap, s.cfg.Timeout)
	scan.StartedAt = s.now()

	s.logger.Info("starting scan",
		"scan_id", scan.ID,
		"requested", len(targets),
		"dispatched", len(dispatch),
		"workers", s.cfg.Workers,
		"timeout", s.cfg.Timeout,
	)

	agg := NewAggregator(len(dispatch))

	var cursor, recorded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for worker := range s.cfg.Workers {
		g.Go(func() error {
			return s.work(gctx, worker, dispatch, &cursor, &recorded, agg)
		})
	}

	err := g.Wait()
	if err == nil {
		if pending := agg.Pending(); pending > 0 {
			err = &FaultError{Err: fmt.Errorf("%w: %d of %d pending", ErrIncompleteScan, pending, len(dispatch))}
		} else {
			err = agg.Wait(ctx)
		}
	}
	scan.FinishedAt = s.now()

	if err != nil {
		return s.abort(scan, agg, dispatch, err)
	}

	results, err := agg.Results(dispatch)
	if err != nil {
		return s.abort(scan, agg, dispatch, &FaultError{Err: err})
	}
	scan.Results = results
	scan.DispatchedCount = len(results)

	if err := scan.Verify(); err != nil {
		return s.abort(scan, agg, dispatch, &FaultError{Err: err})
	}

	s.logger.Info("scan complete",
		"scan_id", scan.ID,
		"dispatched", scan.DispatchedCount,
		"elapsed", scan.Duration(),
	)

	return scan, nil
}

// abort fills scan with the outcomes resolved so far and returns it with
// the cause. Faults carry the partial result themselves.
func (s *Scheduler) abort(scan *model.ScanResult, agg *Aggregator, dispatch []model.Target, cause error) (*model.ScanResult, error) {
	scan.Results = agg.Resolved(dispatch)
	scan.DispatchedCount = len(scan.Results)
	scan.Partial = true

	var fault *FaultError
	if errors.As(cause, &fault) {
		fault.Partial = scan
		s.logger.Error("scan aborted by scheduler fault",
			"scan_id", scan.ID,
			"resolved", scan.DispatchedCount,
			"error", fault.Err,
		)
		return scan, fault
	}

	s.logger.Warn("scan aborted",
		"scan_id", scan.ID,
		"resolved", scan.DispatchedCount,
		"error", cause,
	)
	return scan, fmt.Errorf("scan aborted: %w", cause)
}

// work is the loop of one worker. It returns nil once the cursor runs past
// the dispatched targets. A panic in the loop, e.g. in a hook, stops the
// worker with a *FaultError.
func (s *Scheduler) work(
	ctx context.Context,
	worker int,
	targets []model.Target,
	cursor, recorded *atomic.Int64,
	agg *Aggregator,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Err: fmt.Errorf("worker %d panicked: %v", worker, r)}
		}
	}()

	for {
		// Cooperative cancellation point between pulls.
		if err := ctx.Err(); err != nil {
			return err
		}

		index := int(cursor.Add(1) - 1)
		if index >= len(targets) {
			return nil
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		target := targets[index]

		if s.observer != nil {
			s.observer.ProbeStarted(target)
		}

		outcome, ok := s.probe(ctx, target)
		if !ok {
			// Abandoned by scan cancellation; the index stays unresolved.
			return ctx.Err()
		}
		if err := agg.Record(index, outcome); err != nil {
			return err
		}

		result := model.Result{Index: index, Target: target, Outcome: outcome}
		done := int(recorded.Add(1))

		s.logger.Debug("probe finished",
			"worker", worker,
			"index", index,
			"address", target.Address,
			"status", outcome.Status().String(),
		)

		if s.observer != nil {
			s.observer.ProbeFinished(result)
		}
		if s.progress != nil {
			s.progress(done, len(targets), result)
		}
	}
}

// transportAnswer is the raw return of one transport call.
type transportAnswer struct {
	outcome model.Outcome
	err     error
}

// probe runs one transport call under the per-probe deadline. It reports
// false when the scan context ended before the target was resolved.
//
// The call runs in its own goroutine so a transport that ignores its
// context cannot hold the worker past the deadline. The answer channel is
// buffered, so a late answer is dropped without blocking that goroutine.
func (s *Scheduler) probe(ctx context.Context, target model.Target) (model.Outcome, bool) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	answer := make(chan transportAnswer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				answer <- transportAnswer{outcome: model.TransportError{Message: fmt.Sprintf("transport panic: %v", r)}}
			}
		}()
		outcome, err := s.transport.Probe(pctx, target.Address)
		answer <- transportAnswer{outcome: outcome, err: err}
	}()

	select {
	case a := <-answer:
		// A transport that gave up because the scan was cancelled has not
		// resolved its target.
		if a.err != nil && ctx.Err() != nil {
			return nil, false
		}
		return s.classify(a.outcome, a.err), true
	case <-pctx.Done():
		if ctx.Err() != nil {
			return nil, false
		}
		return model.TimedOut{After: s.cfg.Timeout}, true
	}
}

// classify turns a transport return into an Outcome.
func (s *Scheduler) classify(outcome model.Outcome, err error) model.Outcome {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.TimedOut{After: s.cfg.Timeout}
		}
		return model.TransportError{Message: err.Error()}
	}
	switch outcome.(type) {
	case nil:
		return model.TransportError{Message: "transport returned no outcome"}
	case model.TimedOut:
		// Report the configured deadline, not the transport's measurement.
		return model.TimedOut{After: s.cfg.Timeout}
	}
	return outcome
}
