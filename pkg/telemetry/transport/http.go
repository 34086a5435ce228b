package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"neurotravel/pkg/platform/sentinel"
)

// HTTP is the production transport: one JSON POST per batch to the stream's
// collector endpoint.
type HTTP struct {
	baseURL  string
	client   *http.Client
	signer   TokenSigner
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewHTTP builds an HTTP transport posting under collectorURL.
func NewHTTP(collectorURL string, opts ...Option) *HTTP {
	return newHTTP(collectorURL, newConfig(opts))
}

func newHTTP(collectorURL string, cfg config) *HTTP {
	return &HTTP{
		baseURL:  strings.TrimSuffix(collectorURL, "/"),
		client:   cfg.client,
		signer:   cfg.signer,
		tokenTTL: cfg.tokenTTL,
		logger:   cfg.logger,
	}
}

func (t *HTTP) Send(ctx context.Context, batch Batch) error {
	if !batch.Stream.IsValid() {
		return fmt.Errorf("unknown stream %q: %w", batch.Stream, sentinel.ErrInvalidState)
	}
	payload, err := json.Marshal(map[string]any{batch.Stream.EnvelopeKey(): batch.Records})
	if err != nil {
		return fmt.Errorf("encode %s batch: %w", batch.Stream, err)
	}

	url := t.baseURL + batch.Stream.Path()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.signer != nil {
		token, err := t.signer.GenerateIngestToken(batch.SessionID, string(batch.Stream), t.tokenTTL)
		if err != nil {
			return fmt.Errorf("sign upload: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, errors.Join(sentinel.ErrUnavailable, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %s for %s: %w", resp.Status, batch.Stream, sentinel.ErrRejected)
	}
	return nil
}
