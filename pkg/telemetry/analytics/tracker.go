// Package analytics records product analytics events and ships them in
// batches to the collector's analytics endpoint.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/telemetry"
	"neurotravel/pkg/telemetry/flush"
	"neurotravel/pkg/telemetry/identity"
	"neurotravel/pkg/telemetry/metrics"
	"neurotravel/pkg/telemetry/optout"
	"neurotravel/pkg/telemetry/queue"
	"neurotravel/pkg/telemetry/sanitize"
	"neurotravel/pkg/telemetry/transport"
)

const (
	// DefaultFlushThreshold is the queue length that triggers an immediate flush.
	DefaultFlushThreshold = 10
	// DefaultRequeueCap bounds how much of a failed batch is kept for retry.
	DefaultRequeueCap = 100
)

type config struct {
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	interval     time.Duration
	maxQueueSize int
	requeueCap   int
	threshold    int
	sendTimeout  time.Duration
	dispatcher   flush.Dispatcher
	baseURL      string
}

// Option configures a Tracker.
type Option func(*config)

// WithClock sets the time source for timestamps and the flush timer.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		cfg.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}

// WithInterval sets the timer flush interval.
func WithInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.interval = d
		}
	}
}

// WithMaxQueueSize bounds the event queue.
func WithMaxQueueSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxQueueSize = n
		}
	}
}

// WithRequeueCap bounds how many events of a failed batch are retried.
func WithRequeueCap(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.requeueCap = n
		}
	}
}

// WithFlushThreshold sets the queue length that triggers an immediate flush.
func WithFlushThreshold(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.threshold = n
		}
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.sendTimeout = d
	}
}

// WithDispatcher sets how threshold flushes run.
func WithDispatcher(d flush.Dispatcher) Option {
	return func(cfg *config) {
		cfg.dispatcher = d
	}
}

// WithBaseURL sets the application URL that page views are resolved against.
func WithBaseURL(u string) Option {
	return func(cfg *config) {
		cfg.baseURL = u
	}
}

// Tracker is the analytics pipeline: gate, identity, sanitizer, queue and
// scheduler. Construct one per process and share it.
type Tracker struct {
	gate      *optout.Gate
	binder    *identity.Binder
	flusher   *flush.Flusher[telemetry.Event]
	scheduler *flush.Scheduler
	clock     clock.Clock
	logger    *slog.Logger
	threshold int
	baseURL   string
}

// New builds a Tracker delivering through tr. Opting out through gate clears
// the tracker's queue.
func New(gate *optout.Gate, binder *identity.Binder, tr transport.Transport, opts ...Option) *Tracker {
	cfg := config{
		clock:        clock.Real(),
		logger:       slog.Default(),
		interval:     flush.DefaultAnalyticsInterval,
		maxQueueSize: queue.DefaultMaxSize,
		requeueCap:   DefaultRequeueCap,
		threshold:    DefaultFlushThreshold,
		sendTimeout:  flush.DefaultSendTimeout,
		dispatcher:   flush.GoDispatcher,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	flusher := flush.NewFlusher(telemetry.StreamAnalytics,
		queue.New[telemetry.Event](cfg.maxQueueSize, cfg.requeueCap),
		tr,
		flush.WithSendTimeout(cfg.sendTimeout),
		flush.WithSessionID(binder.SessionID),
		flush.WithLogger(cfg.logger),
		flush.WithMetrics(cfg.metrics),
	)
	t := &Tracker{
		gate:    gate,
		binder:  binder,
		flusher: flusher,
		scheduler: flush.NewScheduler(cfg.interval, []flush.Flushable{flusher},
			flush.WithClock(cfg.clock),
			flush.WithDispatcher(cfg.dispatcher),
			flush.WithSchedulerLogger(cfg.logger),
		),
		clock:     cfg.clock,
		logger:    cfg.logger,
		threshold: cfg.threshold,
		baseURL:   cfg.baseURL,
	}
	gate.OnOptOut(func() {
		if n := flusher.Clear(); n > 0 {
			t.logger.Debug("analytics queue discarded on opt-out", "discarded", n)
		}
	})
	return t
}

// Scheduler exposes the flush scheduler so the host can drive it.
func (t *Tracker) Scheduler() *flush.Scheduler { return t.scheduler }

// Len returns the number of queued events.
func (t *Tracker) Len() int { return t.flusher.Len() }

// Flush sends everything queued now.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flusher.Flush(ctx, flush.TriggerManual)
}

// Track records one event. It never blocks on the network and never fails;
// when telemetry is opted out it does nothing.
func (t *Tracker) Track(ctx context.Context, name string, properties map[string]any) {
	if !t.gate.Enabled() {
		return
	}

	event := telemetry.Event{
		Name:       name,
		Properties: sanitize.Analytics.Sanitize(properties),
		Timestamp:  telemetry.Millis(t.clock.Now()),
		UserID:     t.binder.UserID(),
		SessionID:  t.binder.SessionID(),
	}
	var n int
	if !t.gate.WhileEnabled(func() { n = t.flusher.Enqueue(event) }) {
		return
	}
	if n >= t.threshold {
		t.scheduler.OnThresholdReached(ctx, telemetry.StreamAnalytics)
	}
}

// SetUser binds userID to the session and emits a user_identified event with
// the analytics-safe subset of props.
func (t *Tracker) SetUser(ctx context.Context, userID string, props telemetry.UserProperties) {
	t.binder.Bind(userID, props)
	t.Track(ctx, telemetry.EventUserIdentified, map[string]any{
		"userId":     userID,
		"properties": sanitize.UserProperties(props),
	})
}

// IsOptedOut reports whether the user has disabled telemetry.
func (t *Tracker) IsOptedOut() bool {
	return !t.gate.Enabled()
}
