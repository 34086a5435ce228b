// Package client wires the analytics and monitoring pipelines together. The
// host application builds exactly one Client at startup and passes it to the
// code that records telemetry.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	jwttoken "neurotravel/internal/jwt_token"
	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/telemetry"
	"neurotravel/pkg/telemetry/analytics"
	"neurotravel/pkg/telemetry/flush"
	"neurotravel/pkg/telemetry/identity"
	"neurotravel/pkg/telemetry/metrics"
	"neurotravel/pkg/telemetry/monitor"
	"neurotravel/pkg/telemetry/optout"
	"neurotravel/pkg/telemetry/prefs"
	"neurotravel/pkg/telemetry/transport"
)

// Config holds the tunables of both pipelines. Zero values fall back to the
// package defaults of analytics, monitor and flush.
type Config struct {
	Mode              transport.Mode
	CollectorURL      string
	AppURL            string
	AnalyticsInterval time.Duration
	MonitorInterval   time.Duration
	MaxQueueSize      int
	FlushThreshold    int
	SendTimeout       time.Duration
	SigningKey        string
	UserAgent         string
}

type options struct {
	logger     *slog.Logger
	clock      clock.Clock
	registerer prometheus.Registerer
	transport  transport.Transport
	dispatcher flush.Dispatcher
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the time source shared by both pipelines.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRegisterer registers pipeline metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTransport replaces the transport selected from Config.Mode.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) {
		o.transport = tr
	}
}

// WithDispatcher sets how out-of-band flushes run in both pipelines.
func WithDispatcher(d flush.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// LoadTimings are the navigation timings reported once the host finished
// loading.
type LoadTimings struct {
	Page             string
	PageLoad         time.Duration
	DOMInteractive   time.Duration
	DOMContentLoaded time.Duration
}

// Client owns one analytics Tracker and one Monitor sharing a session,
// identity and opt-out gate.
type Client struct {
	gate    *optout.Gate
	binder  *identity.Binder
	tracker *analytics.Tracker
	monitor *monitor.Monitor
	logger  *slog.Logger

	loadOnce     sync.Once
	shutdownOnce sync.Once
	shutdownErr  error

	mu      sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

// New builds a Client. The opt-out flag is read from store once; if it cannot
// be read the client starts with telemetry disabled.
func New(ctx context.Context, cfg Config, store prefs.Store, opts ...Option) (*Client, error) {
	o := options{
		logger:     slog.Default(),
		clock:      clock.Real(),
		dispatcher: flush.GoDispatcher,
	}
	for _, opt := range opts {
		opt(&o)
	}

	tr := o.transport
	if tr == nil {
		var trOpts []transport.Option
		trOpts = append(trOpts, transport.WithLogger(o.logger))
		if cfg.SigningKey != "" {
			trOpts = append(trOpts, transport.WithSigner(jwttoken.NewJWTService(cfg.SigningKey, jwttoken.DefaultIssuer)))
		}
		var err error
		tr, err = transport.New(cfg.Mode, cfg.CollectorURL, trOpts...)
		if err != nil {
			return nil, fmt.Errorf("build transport: %w", err)
		}
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		m = metrics.New(o.registerer)
	}

	// A read failure leaves the gate closed; it has already been logged.
	gate, _ := optout.Load(ctx, store, optout.WithLogger(o.logger))
	binder := identity.NewBinder()

	c := &Client{
		gate:   gate,
		binder: binder,
		logger: o.logger,
		tracker: analytics.New(gate, binder, tr,
			analytics.WithClock(o.clock),
			analytics.WithLogger(o.logger),
			analytics.WithMetrics(m),
			analytics.WithInterval(cfg.AnalyticsInterval),
			analytics.WithMaxQueueSize(cfg.MaxQueueSize),
			analytics.WithFlushThreshold(cfg.FlushThreshold),
			analytics.WithSendTimeout(cfg.SendTimeout),
			analytics.WithDispatcher(o.dispatcher),
			analytics.WithBaseURL(cfg.AppURL),
		),
		monitor: monitor.New(gate, binder, tr,
			monitor.WithClock(o.clock),
			monitor.WithLogger(o.logger),
			monitor.WithMetrics(m),
			monitor.WithInterval(cfg.MonitorInterval),
			monitor.WithMaxQueueSize(cfg.MaxQueueSize),
			monitor.WithSendTimeout(cfg.SendTimeout),
			monitor.WithDispatcher(o.dispatcher),
			monitor.WithLocation(cfg.AppURL),
			monitor.WithUserAgent(cfg.UserAgent),
		),
	}
	return c, nil
}

// Analytics returns the analytics pipeline.
func (c *Client) Analytics() *analytics.Tracker { return c.tracker }

// Monitor returns the error and performance pipeline.
func (c *Client) Monitor() *monitor.Monitor { return c.monitor }

// SessionID returns the session shared by both pipelines.
func (c *Client) SessionID() string { return c.binder.SessionID() }

// Enabled reports whether telemetry is being recorded.
func (c *Client) Enabled() bool { return c.gate.Enabled() }

// Identify binds the authenticated user to the session.
func (c *Client) Identify(ctx context.Context, userID string, props telemetry.UserProperties) {
	c.tracker.SetUser(ctx, userID, props)
}

// OptOut disables telemetry durably and discards everything queued.
func (c *Client) OptOut(ctx context.Context) error { return c.gate.OptOut(ctx) }

// OptIn re-enables telemetry.
func (c *Client) OptIn(ctx context.Context) error { return c.gate.OptIn(ctx) }

// Run drives both flush timers until ctx is done or Shutdown is called.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.stopRun, c.runDone = cancel, done
	c.mu.Unlock()
	defer close(done)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.tracker.Scheduler().Run(ctx) })
	g.Go(func() error { return c.monitor.Scheduler().Run(ctx) })
	return g.Wait()
}

// Loaded reports the host's load timings. Only the first call has an effect.
func (c *Client) Loaded(ctx context.Context, timings LoadTimings) {
	c.loadOnce.Do(func() {
		pageLoad := millis(timings.PageLoad)
		domContentLoaded := millis(timings.DOMContentLoaded)

		c.monitor.RecordPerformance(ctx, telemetry.MetricPageLoadTime, pageLoad)
		c.monitor.RecordPerformance(ctx, telemetry.MetricDOMInteractive, millis(timings.DOMInteractive))
		c.monitor.RecordPerformance(ctx, telemetry.MetricDOMContentLoaded, domContentLoaded)

		page := timings.Page
		if page == "" {
			page = "/"
		}
		c.tracker.TrackPageView(ctx, page, nil)
		c.tracker.TrackPerformance(ctx, telemetry.MetricPageLoadTime, pageLoad, nil)
		c.tracker.TrackPerformance(ctx, telemetry.MetricDOMContentLoaded, domContentLoaded, nil)
	})
}

// Shutdown stops the flush timers and makes one final best-effort flush of
// every stream. Only the first call has an effect; later calls return its
// result.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		stop, done := c.stopRun, c.runDone
		c.mu.Unlock()
		if stop != nil {
			stop()
			select {
			case <-done:
			case <-ctx.Done():
			}
		}

		var g errgroup.Group
		g.Go(func() error { return c.tracker.Scheduler().OnShutdownSignal(ctx) })
		g.Go(func() error { return c.monitor.Scheduler().OnShutdownSignal(ctx) })
		c.shutdownErr = g.Wait()
		if c.shutdownErr != nil {
			c.logger.WarnContext(ctx, "final telemetry flush incomplete", "error", c.shutdownErr)
		}
	})
	return c.shutdownErr
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
