package transport

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultTokenTTL    = 5 * time.Minute
)

// TokenSigner issues the bearer token attached to each upload.
type TokenSigner interface {
	GenerateIngestToken(sessionID, stream string, expiresIn time.Duration) (string, error)
}

type config struct {
	logger   *slog.Logger
	client   *http.Client
	signer   TokenSigner
	tokenTTL time.Duration
}

// Option configures a transport.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client used in production mode.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithSigner attaches a bearer token to every upload.
func WithSigner(signer TokenSigner) Option {
	return func(c *config) {
		c.signer = signer
	}
}

// WithTokenTTL sets the lifetime of upload tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		logger:   slog.Default(),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
