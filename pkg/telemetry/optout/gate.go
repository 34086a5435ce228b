// Package optout holds the durable, user-controlled switch that disables all
// telemetry writes.
package optout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry/prefs"
)

// StorageKey is where the opt-out flag is persisted.
var StorageKey = prefs.Key("analytics_opt_out")

const optedOutValue = "true"

// Gate reports whether telemetry may be recorded. The flag is read from the
// store once in Load and changed only by OptOut and OptIn.
type Gate struct {
	store   prefs.Store
	logger  *slog.Logger
	enabled atomic.Bool

	// writes is held shared by WhileEnabled and exclusively while OptOut
	// flips the flag and runs the hooks.
	writes sync.RWMutex

	mu    sync.Mutex
	hooks []func()
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// Load builds a Gate from the persisted flag. If the store cannot be read the
// gate starts disabled and the read error is returned alongside it.
func Load(ctx context.Context, store prefs.Store, opts ...Option) (*Gate, error) {
	g := &Gate{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}

	value, err := store.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		g.enabled.Store(true)
		return g, nil
	case err != nil:
		g.logger.ErrorContext(ctx, "failed to read telemetry opt-out flag, telemetry disabled",
			"key", StorageKey,
			"error", err,
		)
		return g, fmt.Errorf("load opt-out flag: %w", err)
	}
	g.enabled.Store(value != optedOutValue)
	return g, nil
}

// Enabled reports whether telemetry may be recorded.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// WhileEnabled runs fn only if telemetry is enabled and reports whether it
// ran. OptOut cannot complete while fn runs, so a record enqueued by fn is
// either discarded by the opt-out hooks or never enqueued at all. fn must not
// call OptOut or OptIn.
func (g *Gate) WhileEnabled(fn func()) bool {
	g.writes.RLock()
	defer g.writes.RUnlock()
	if !g.enabled.Load() {
		return false
	}
	fn()
	return true
}

// OnOptOut registers fn to run on every OptOut, after writes are disabled.
// Hooks discard queued data; they must not flush it.
func (g *Gate) OnOptOut(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// OptOut disables telemetry immediately, runs the OnOptOut hooks and persists
// the flag. Telemetry stays disabled in this process even when persisting
// fails; the error is returned so the caller can surface it.
func (g *Gate) OptOut(ctx context.Context) error {
	g.mu.Lock()
	hooks := append([]func(){}, g.hooks...)
	g.mu.Unlock()

	g.writes.Lock()
	g.enabled.Store(false)
	for _, hook := range hooks {
		hook()
	}
	g.writes.Unlock()

	if err := g.store.Set(ctx, StorageKey, optedOutValue); err != nil {
		g.logger.ErrorContext(ctx, "failed to persist telemetry opt-out", "error", err)
		return fmt.Errorf("persist opt-out: %w", err)
	}
	g.logger.InfoContext(ctx, "telemetry opted out")
	return nil
}

// OptIn clears the persisted flag and re-enables telemetry. Data discarded by
// an earlier OptOut is not recovered.
func (g *Gate) OptIn(ctx context.Context) error {
	if err := g.store.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("clear opt-out: %w", err)
	}
	g.writes.Lock()
	g.enabled.Store(true)
	g.writes.Unlock()
	g.logger.InfoContext(ctx, "telemetry opted in")
	return nil
}
