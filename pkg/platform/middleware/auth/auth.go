// Package auth verifies the bearer tokens telemetry clients attach to batch
// uploads.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	jwttoken "neurotravel/internal/jwt_token"
	"neurotravel/pkg/platform/httputil"
)

// TokenValidator validates an ingest token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

type contextKeySessionID struct{}
type contextKeyStream struct{}

// GetSessionID retrieves the token's session ID from the context.
func GetSessionID(ctx context.Context) string {
	sessionID, ok := ctx.Value(contextKeySessionID{}).(string)
	if !ok {
		return ""
	}
	return sessionID
}

// GetStream retrieves the stream the token was issued for. Empty means any.
func GetStream(ctx context.Context) string {
	stream, ok := ctx.Value(contextKeyStream{}).(string)
	if !ok {
		return ""
	}
	return stream
}

// WithClaims injects token claims into a context.
// Useful for handler unit tests that don't run the middleware.
func WithClaims(ctx context.Context, sessionID, stream string) context.Context {
	ctx = context.WithValue(ctx, contextKeySessionID{}, sessionID)
	return context.WithValue(ctx, contextKeyStream{}, stream)
}

// RequireIngestToken rejects requests without a valid "Authorization: Bearer"
// ingest token.
func RequireIngestToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := middleware.GetReqID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized ingest - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, httputil.New(httputil.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized ingest - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, httputil.New(httputil.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = WithClaims(ctx, claims.SessionID, claims.Stream)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
