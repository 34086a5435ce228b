package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neurotravel/internal/collector/models"
	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry"
)

//go:embed schema.sql
var schema string

var (
	eventColumns  = []string{"name", "properties", "occurred_at", "user_id", "session_id", "received_at"}
	metricColumns = []string{"name", "value", "url", "occurred_at", "user_id", "session_id", "received_at"}
)

const insertError = `
INSERT INTO telemetry_errors (
    id, message, stack, url, user_agent, browser, browser_version, os, mobile, bot,
    client_ip, severity, context, resolved, occurred_at, user_id, session_id, received_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO NOTHING`

// PostgresStore persists batches in PostgreSQL. Events and metrics are bulk
// copied; error reports are upserted by ID so a retried batch is stored once.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Name() string { return "postgres" }

// Migrate creates the telemetry tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate telemetry schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Write(ctx context.Context, batch *models.Batch) error {
	switch batch.Stream {
	case telemetry.StreamAnalytics:
		return s.copyEvents(ctx, batch)
	case telemetry.StreamPerformance:
		return s.copyMetrics(ctx, batch)
	case telemetry.StreamErrors:
		return s.insertErrors(ctx, batch)
	}
	return fmt.Errorf("postgres store: stream %q: %w", batch.Stream, sentinel.ErrInvalidState)
}

func (s *PostgresStore) copyEvents(ctx context.Context, batch *models.Batch) error {
	events := batch.Events
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"telemetry_events"}, eventColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{
				e.Name,
				nonNilMap(e.Properties),
				fromMillis(e.Timestamp),
				nullString(e.UserID),
				e.SessionID,
				batch.ReceivedAt,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy events: %w", err)
	}
	return nil
}

func (s *PostgresStore) copyMetrics(ctx context.Context, batch *models.Batch) error {
	metrics := batch.Metrics
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"telemetry_metrics"}, metricColumns,
		pgx.CopyFromSlice(len(metrics), func(i int) ([]any, error) {
			m := metrics[i]
			return []any{
				m.Name,
				m.Value,
				nullString(m.URL),
				fromMillis(m.Timestamp),
				nullString(m.UserID),
				m.SessionID,
				batch.ReceivedAt,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy metrics: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertErrors(ctx context.Context, batch *models.Batch) error {
	b := &pgx.Batch{}
	for _, r := range batch.Errors {
		b.Queue(insertError,
			r.ID, r.Message, nullString(r.Stack), nullString(r.URL), nullString(r.UserAgent),
			nullString(r.Client.Browser), nullString(r.Client.BrowserVersion), nullString(r.Client.OS),
			r.Client.Mobile, r.Client.Bot, nullString(r.ClientIP),
			string(r.Severity), nonNilMap(r.Context), r.Resolved,
			fromMillis(r.Timestamp), nullString(r.UserID), r.SessionID, batch.ReceivedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert errors: %w", err)
	}
	return nil
}

// Count returns how many records of stream are stored.
func (s *PostgresStore) Count(ctx context.Context, stream telemetry.Stream) (int, error) {
	table, ok := map[telemetry.Stream]string{
		telemetry.StreamAnalytics:   "telemetry_events",
		telemetry.StreamErrors:      "telemetry_errors",
		telemetry.StreamPerformance: "telemetry_metrics",
	}[stream]
	if !ok {
		return 0, fmt.Errorf("count: stream %q: %w", stream, sentinel.ErrInvalidState)
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
