package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/telemetry"
)

// Default flush intervals.
const (
	DefaultAnalyticsInterval = 30 * time.Second
	DefaultMonitorInterval   = 60 * time.Second
)

// Dispatcher runs an out-of-band flush. The default runs it on a new
// goroutine with a context detached from the caller's cancellation.
type Dispatcher func(ctx context.Context, fn func(context.Context))

// GoDispatcher runs fn on its own goroutine.
func GoDispatcher(ctx context.Context, fn func(context.Context)) {
	go fn(context.WithoutCancel(ctx))
}

// SyncDispatcher runs fn inline. Used where the caller wants the flush to
// complete before returning, tests in particular.
func SyncDispatcher(ctx context.Context, fn func(context.Context)) {
	fn(ctx)
}

// Scheduler decides when a set of flushers run: on each tick of its clock, on
// demand when a queue crosses its threshold or a critical error arrives, and
// once more at shutdown.
type Scheduler struct {
	clock    clock.Clock
	interval time.Duration
	order    []telemetry.Stream
	flushers map[telemetry.Stream]Flushable
	dispatch Dispatcher
	logger   *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock sets the time source for Run.
func WithClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithDispatcher sets how threshold and severity flushes are run.
func WithDispatcher(d Dispatcher) SchedulerOption {
	return func(s *Scheduler) {
		s.dispatch = d
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler builds a scheduler ticking every interval over flushers. Ticks
// and shutdown flush streams in the order given.
func NewScheduler(interval time.Duration, flushers []Flushable, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultAnalyticsInterval
	}
	s := &Scheduler{
		clock:    clock.Real(),
		interval: interval,
		flushers: make(map[telemetry.Stream]Flushable, len(flushers)),
		dispatch: GoDispatcher,
		logger:   slog.Default(),
	}
	for _, f := range flushers {
		s.order = append(s.order, f.Stream())
		s.flushers[f.Stream()] = f
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run calls OnTick every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.OnTick(ctx)
		}
	}
}

// OnTick flushes every stream, whether or not anything is queued.
func (s *Scheduler) OnTick(ctx context.Context) error {
	return s.flushAll(ctx, TriggerTick)
}

// OnThresholdReached schedules an immediate flush of stream.
func (s *Scheduler) OnThresholdReached(ctx context.Context, stream telemetry.Stream) {
	s.dispatchFlush(ctx, stream, TriggerThreshold)
}

// OnSeverityEscalation schedules an immediate flush of stream ahead of the
// next tick. Only the named stream is flushed.
func (s *Scheduler) OnSeverityEscalation(ctx context.Context, stream telemetry.Stream) {
	s.dispatchFlush(ctx, stream, TriggerSeverity)
}

// OnShutdownSignal stops accepting out-of-band flushes, waits for the ones in
// flight and makes one last flush of every stream. Delivery is best effort;
// the returned error joins every stream's failure. Later calls are no-ops.
func (s *Scheduler) OnShutdownSignal(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending flushes: %w", ctx.Err())
	}

	return s.flushAll(ctx, TriggerShutdown)
}

func (s *Scheduler) flushAll(ctx context.Context, trigger Trigger) error {
	var errs []error
	for _, stream := range s.order {
		if err := s.flushers[stream].Flush(ctx, trigger); err != nil && !errors.Is(err, ErrFlushInProgress) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) dispatchFlush(ctx context.Context, stream telemetry.Stream, trigger Trigger) {
	f, ok := s.flushers[stream]
	if !ok {
		s.logger.WarnContext(ctx, "flush requested for unscheduled stream", "stream", stream, "trigger", trigger)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	s.dispatch(ctx, func(ctx context.Context) {
		defer s.pending.Done()
		if err := f.Flush(ctx, trigger); err != nil && !errors.Is(err, ErrFlushInProgress) {
			s.logger.DebugContext(ctx, "out-of-band flush failed", "stream", stream, "trigger", trigger, "error", err)
		}
	})
}
