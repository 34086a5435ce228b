package transport

import (
	"context"
	"log/slog"
)

// Log is the development transport. It logs each batch and reports success.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (t *Log) Send(ctx context.Context, batch Batch) error {
	t.logger.DebugContext(ctx, "telemetry batch (not sent)",
		"stream", batch.Stream,
		"size", batch.Size,
		"records", batch.Records,
	)
	return nil
}
