package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/platform/middleware/auth"
	"neurotravel/pkg/platform/middleware/metadata"
	"neurotravel/pkg/platform/middleware/requesttime"
)

// RouterConfig holds the optional pieces of the collector router.
type RouterConfig struct {
	// Validator enables bearer-token checks on ingest routes when set.
	Validator auth.TokenValidator
	// Gatherer is served on /metrics when set.
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
	Logger   *slog.Logger
}

// NewRouter wires the collector endpoints.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware(cfg.Clock))

	r.Get("/healthz", h.HandleHealth)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.Validator != nil {
			r.Use(auth.RequireIngestToken(cfg.Validator, logger))
		}
		h.Register(r)
	})
	return r
}
