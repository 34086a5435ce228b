// Package monitor captures application errors and performance samples and
// ships them to the collector's errors and performance endpoints.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

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

// Requeue caps for failed batches.
const (
	DefaultErrorRequeueCap       = 50
	DefaultPerformanceRequeueCap = 100
)

// DefaultUserAgent identifies reports produced by this process.
var DefaultUserAgent = fmt.Sprintf("neurotravel-telemetry (%s/%s; %s)", runtime.GOOS, runtime.GOARCH, runtime.Version())

type config struct {
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	interval     time.Duration
	maxQueueSize int
	sendTimeout  time.Duration
	dispatcher   flush.Dispatcher
	location     string
	userAgent    string
	timingWindow int
}

// Option configures a Monitor.
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

// WithMaxQueueSize bounds both queues.
func WithMaxQueueSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxQueueSize = n
		}
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.sendTimeout = d
	}
}

// WithDispatcher sets how critical-error flushes run.
func WithDispatcher(d flush.Dispatcher) Option {
	return func(cfg *config) {
		cfg.dispatcher = d
	}
}

// WithLocation sets the URL stamped on reports and metrics.
func WithLocation(url string) Option {
	return func(cfg *config) {
		cfg.location = url
	}
}

// WithUserAgent overrides the user agent stamped on error reports.
func WithUserAgent(ua string) Option {
	return func(cfg *config) {
		if ua != "" {
			cfg.userAgent = ua
		}
	}
}

// Monitor is the error and performance pipeline. It shares the opt-out gate
// and identity binder with analytics but has its own queues and timer.
type Monitor struct {
	gate        *optout.Gate
	binder      *identity.Binder
	errors      *flush.Flusher[telemetry.ErrorReport]
	performance *flush.Flusher[telemetry.PerformanceMetric]
	scheduler   *flush.Scheduler
	timings     *Timings
	clock       clock.Clock
	logger      *slog.Logger
	location    string
	userAgent   string
	disabled    atomic.Bool
}

// New builds a Monitor delivering through tr. Opting out through gate clears
// both of its queues.
func New(gate *optout.Gate, binder *identity.Binder, tr transport.Transport, opts ...Option) *Monitor {
	cfg := config{
		clock:        clock.Real(),
		logger:       slog.Default(),
		interval:     flush.DefaultMonitorInterval,
		maxQueueSize: queue.DefaultMaxSize,
		sendTimeout:  flush.DefaultSendTimeout,
		dispatcher:   flush.GoDispatcher,
		userAgent:    DefaultUserAgent,
		timingWindow: DefaultTimingWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	flushOpts := []flush.Option{
		flush.WithSendTimeout(cfg.sendTimeout),
		flush.WithSessionID(binder.SessionID),
		flush.WithLogger(cfg.logger),
		flush.WithMetrics(cfg.metrics),
	}
	errorsFlusher := flush.NewFlusher(telemetry.StreamErrors,
		queue.New[telemetry.ErrorReport](cfg.maxQueueSize, DefaultErrorRequeueCap), tr, flushOpts...)
	perfFlusher := flush.NewFlusher(telemetry.StreamPerformance,
		queue.New[telemetry.PerformanceMetric](cfg.maxQueueSize, DefaultPerformanceRequeueCap), tr, flushOpts...)

	m := &Monitor{
		gate:        gate,
		binder:      binder,
		errors:      errorsFlusher,
		performance: perfFlusher,
		scheduler: flush.NewScheduler(cfg.interval, []flush.Flushable{errorsFlusher, perfFlusher},
			flush.WithClock(cfg.clock),
			flush.WithDispatcher(cfg.dispatcher),
			flush.WithSchedulerLogger(cfg.logger),
		),
		timings:   NewTimings(cfg.timingWindow),
		clock:     cfg.clock,
		logger:    cfg.logger,
		location:  cfg.location,
		userAgent: cfg.userAgent,
	}
	gate.OnOptOut(func() {
		errorsFlusher.Clear()
		perfFlusher.Clear()
	})
	return m
}

// Scheduler exposes the flush scheduler so the host can drive it.
func (m *Monitor) Scheduler() *flush.Scheduler { return m.scheduler }

// Timings returns the rolling timing window fed by RecordPerformance.
func (m *Monitor) Timings() *Timings { return m.timings }

// Pending returns the number of queued error reports and metrics.
func (m *Monitor) Pending() (errs, perf int) {
	return m.errors.Len(), m.performance.Len()
}

// Flush sends everything queued now on both streams.
func (m *Monitor) Flush(ctx context.Context) error {
	return errors.Join(
		m.errors.Flush(ctx, flush.TriggerManual),
		m.performance.Flush(ctx, flush.TriggerManual),
	)
}

// Disable stops recording until Enable. Unlike opting out it is not persisted
// and does not discard queued data.
func (m *Monitor) Disable() { m.disabled.Store(true) }

// Enable resumes recording after Disable.
func (m *Monitor) Enable() { m.disabled.Store(false) }

func (m *Monitor) enabled() bool {
	return !m.disabled.Load() && m.gate.Enabled()
}

type stackTracer interface {
	Stack() string
}

// CaptureError records err as an error report and returns the report ID, or
// "" when recording is off. A critical report flushes the error stream
// immediately. Unknown severities are recorded as medium.
func (m *Monitor) CaptureError(ctx context.Context, err error, severity telemetry.Severity, errCtx map[string]any) string {
	if err == nil || !m.enabled() {
		return ""
	}
	if !severity.IsValid() {
		severity = telemetry.SeverityMedium
	}

	report := telemetry.ErrorReport{
		ID:        newReportID(),
		Message:   err.Error(),
		Stack:     stackOf(err),
		URL:       m.location,
		UserAgent: m.userAgent,
		Timestamp: telemetry.Millis(m.clock.Now()),
		UserID:    m.binder.UserID(),
		SessionID: m.binder.SessionID(),
		Severity:  severity,
		Context:   sanitize.ErrorContext.Sanitize(errCtx),
	}
	if !m.gate.WhileEnabled(func() { m.errors.Enqueue(report) }) {
		return ""
	}
	m.logger.DebugContext(ctx, "error captured",
		"report_id", report.ID,
		"severity", severity,
		"message", report.Message,
	)

	if severity == telemetry.SeverityCritical {
		m.scheduler.OnSeverityEscalation(ctx, telemetry.StreamErrors)
	}
	return report.ID
}

// ReportError captures err at medium severity.
func (m *Monitor) ReportError(ctx context.Context, err error, errCtx map[string]any) string {
	return m.CaptureError(ctx, err, telemetry.SeverityMedium, errCtx)
}

// ReportCriticalError captures err at critical severity.
func (m *Monitor) ReportCriticalError(ctx context.Context, err error, errCtx map[string]any) string {
	return m.CaptureError(ctx, err, telemetry.SeverityCritical, errCtx)
}

// Recover reports a panic in progress as a high-severity error and then
// re-panics. Use as `defer m.Recover(ctx)`.
func (m *Monitor) Recover(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	m.CaptureError(ctx, err, telemetry.SeverityHigh, map[string]any{"type": "panic"})
	panic(r)
}

// RecordPerformance records one sample.
func (m *Monitor) RecordPerformance(ctx context.Context, name string, value float64) {
	if !m.enabled() {
		return
	}
	metric := telemetry.PerformanceMetric{
		Name:      name,
		Value:     value,
		Timestamp: telemetry.Millis(m.clock.Now()),
		URL:       m.location,
		UserID:    m.binder.UserID(),
		SessionID: m.binder.SessionID(),
	}
	if !m.gate.WhileEnabled(func() { m.performance.Enqueue(metric) }) {
		return
	}
	m.timings.Record(name, value)
}

// StartTiming returns a function that records the milliseconds elapsed since
// StartTiming was called under name.
func (m *Monitor) StartTiming(ctx context.Context, name string) func() {
	started := m.clock.Now()
	return func() {
		m.RecordPerformance(ctx, name, millisSince(m.clock, started))
	}
}

// Measure runs fn and records its duration as function_<name>.
func (m *Monitor) Measure(ctx context.Context, name string, fn func()) {
	started := m.clock.Now()
	fn()
	m.RecordPerformance(ctx, "function_"+name, millisSince(m.clock, started))
}

// MeasureErr runs fn and records its duration as function_<name>. If fn
// fails the duration goes to function_<name>_error instead and the error is
// captured at medium severity. fn's error is returned unchanged.
func (m *Monitor) MeasureErr(ctx context.Context, name string, fn func() error) error {
	started := m.clock.Now()
	err := fn()
	elapsed := millisSince(m.clock, started)
	if err != nil {
		m.RecordPerformance(ctx, "function_"+name+"_error", elapsed)
		m.CaptureError(ctx, err, telemetry.SeverityMedium, map[string]any{"function": name})
		return err
	}
	m.RecordPerformance(ctx, "function_"+name, elapsed)
	return nil
}

func millisSince(c clock.Clock, started time.Time) float64 {
	return float64(c.Now().Sub(started)) / float64(time.Millisecond)
}

func newReportID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.Stack()
	}
	return string(debug.Stack())
}
