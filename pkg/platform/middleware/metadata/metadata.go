// Package metadata carries the caller's network identity (client IP and
// User-Agent) from the HTTP edge into request-scoped context.
package metadata

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Client is what the collector knows about the caller of a request.
type Client struct {
	IP        string
	UserAgent string
}

type contextKey struct{}

// ClientMetadata stores the caller's Client in the request context.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithClientMetadata returns a copy of ctx carrying clientIP and userAgent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(ctx, contextKey{}, Client{IP: clientIP, UserAgent: userAgent})
}

// FromContext returns the Client stored in ctx, if any.
func FromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(contextKey{}).(Client)
	return c, ok
}

// GetClientIP returns the caller IP stored in ctx or "".
func GetClientIP(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.IP
}

// GetUserAgent returns the caller User-Agent stored in ctx or "".
func GetUserAgent(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.UserAgent
}

// ClientIPFromRequest resolves the originating client address. The first
// parseable entry of X-Forwarded-For wins, then X-Real-IP, then RemoteAddr.
// Header values that are not IP addresses are ignored.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}

	addr := r.RemoteAddr
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func parseIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
