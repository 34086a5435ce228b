// Package requesttime provides middleware and utilities for request-scoped time.
// All operations within a single HTTP request use the same "now" timestamp,
// so every record in one ingest batch carries the same receivedAt.
package requesttime

import (
	"context"
	"net/http"
	"time"

	"neurotravel/pkg/platform/clock"
)

type contextKeyTime struct{}

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(c clock.Clock) func(http.Handler) http.Handler {
	if c == nil {
		c = clock.Real()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithTime(r.Context(), c.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Now retrieves the request-scoped time from context, falling back to
// time.Now when the middleware did not run.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyTime{}, t)
}
