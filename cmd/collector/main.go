package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"neurotravel/internal/collector/handler"
	"neurotravel/internal/collector/service"
	"neurotravel/internal/collector/sink"
	"neurotravel/internal/collector/store"
	jwttoken "neurotravel/internal/jwt_token"
	"neurotravel/internal/platform/config"
	"neurotravel/internal/platform/httpserver"
	"neurotravel/internal/platform/logger"
	"neurotravel/internal/platform/metrics"
	"neurotravel/pkg/platform/clock"
)

const shutdownTimeout = httpserver.DefaultShutdownTimeout

// main wires the reference collector: config, sinks, HTTP router, and a
// graceful shutdown on SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("collector stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	primary, closePrimary, err := openPrimary(ctx, cfg.Collector, log)
	if err != nil {
		return err
	}
	defer closePrimary()

	fanoutOpts := []sink.FanoutOption{
		sink.WithFanoutLogger(log),
		sink.WithFanoutMetrics(m),
	}
	if brokers := cfg.Collector.KafkaBrokersList(); len(brokers) > 0 {
		k, err := sink.NewKafka(brokers, cfg.Collector.KafkaTopicPrefix, sink.WithKafkaLogger(log))
		if err != nil {
			return err
		}
		defer k.Close()
		if err := k.EnsureTopics(ctx, 3, 1); err != nil {
			log.Warn("could not ensure kafka topics", "error", err)
		}
		fanoutOpts = append(fanoutOpts, sink.WithSecondary(k))
	}
	fanout := sink.NewFanout(primary, fanoutOpts...)

	var validator *jwttoken.JWTService
	if cfg.Collector.RequireToken {
		validator = jwttoken.NewJWTService(cfg.Telemetry.SigningKey, jwttoken.DefaultIssuer)
	}

	svc := service.New(fanout, service.WithLogger(log), service.WithMetrics(m))
	h := handler.New(svc, handler.WithLogger(log), handler.WithMetrics(m))
	routerCfg := handler.RouterConfig{
		Gatherer: reg,
		Clock:    clock.Real(),
		Logger:   log,
	}
	if validator != nil {
		routerCfg.Validator = validator
	}
	srv := httpserver.New(cfg.Collector.Addr, handler.NewRouter(h, routerCfg))

	log.Info("starting collector",
		"addr", cfg.Collector.Addr,
		"primary_sink", primary.Name(),
		"require_token", cfg.Collector.RequireToken,
	)
	return httpserver.Run(ctx, srv, nil, shutdownTimeout, log)
}

// openPrimary returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise.
func openPrimary(ctx context.Context, cfg config.Collector, log *slog.Logger) (sink.Sink, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, records are kept in memory only")
		return store.NewMemory(0), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}
