// Package handler exposes the collector's HTTP surface.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"neurotravel/internal/collector/models"
	"neurotravel/internal/platform/metrics"
	"neurotravel/pkg/platform/httputil"
	"neurotravel/pkg/telemetry"
)

// MaxBodyBytes caps the size of one ingest request.
const MaxBodyBytes = 1 << 20

// ReasonDecode labels requests rejected because the body could not be read.
const ReasonDecode = "decode"

type IngestService interface {
	Ingest(ctx context.Context, stream telemetry.Stream, env *models.Envelope) (int, error)
	Health(ctx context.Context) error
}

// Handler serves ingest and health endpoints.
type Handler struct {
	service IngestService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// New creates a Handler.
func New(service IngestService, opts ...Option) *Handler {
	h := &Handler{service: service, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts one POST route per telemetry stream.
func (h *Handler) Register(r chi.Router) {
	for _, stream := range telemetry.Streams() {
		r.Post(stream.Path(), h.HandleIngest(stream))
	}
}

// IngestResponse is the body of a successful ingest.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// HandleIngest handles POST /api/<stream> requests.
func (h *Handler) HandleIngest(stream telemetry.Stream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)
		start := time.Now()

		env, err := httputil.DecodeJSON[models.Envelope](w, r, MaxBodyBytes)
		if err != nil {
			h.metrics.IncRejected(string(stream), ReasonDecode)
			h.logger.WarnContext(ctx, "invalid ingest body",
				"request_id", requestID,
				"stream", stream,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}

		n, err := h.service.Ingest(ctx, stream, env)
		if err != nil {
			h.logger.WarnContext(ctx, "ingest rejected",
				"request_id", requestID,
				"stream", stream,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}

		h.logger.InfoContext(ctx, "ingest accepted",
			"request_id", requestID,
			"stream", stream,
			"records", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		httputil.WriteJSON(w, http.StatusAccepted, IngestResponse{Accepted: n})
	}
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.service.Health(ctx); err != nil {
		h.logger.WarnContext(ctx, "health check failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
