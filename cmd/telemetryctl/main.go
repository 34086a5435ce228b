// telemetryctl inspects and changes the durable telemetry opt-out flag and can
// send a one-off analytics event, using the same configuration as the
// embedding application.
//
// Usage:
//
//	telemetryctl [flags] status
//	telemetryctl [flags] optout
//	telemetryctl [flags] optin
//	telemetryctl [flags] track <name> [key=value...]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"neurotravel/internal/platform/config"
	"neurotravel/internal/platform/logger"
	"neurotravel/internal/platform/redis"
	"neurotravel/pkg/telemetry/client"
	"neurotravel/pkg/telemetry/flush"
	"neurotravel/pkg/telemetry/prefs"
	"neurotravel/pkg/telemetry/transport"
)

// errUsage marks errors caused by bad arguments.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type options struct {
	prefsPath    string
	collectorURL string
	mode         string
	logLevel     string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var opts options
	flagSet := pflag.NewFlagSet("telemetryctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.prefsPath, "prefs", cfg.Telemetry.PrefsPath, "preferences file (ignored when REDIS_URL is set)")
	flagSet.StringVar(&opts.collectorURL, "collector", cfg.Telemetry.CollectorURL, "collector base URL")
	flagSet.StringVar(&opts.mode, "mode", cfg.Telemetry.Mode, "transport mode: development or production")
	flagSet.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: expected a command: status, optout, optin or track", errUsage)
	}

	store, closeStore, err := openStore(ctx, cfg, opts.prefsPath)
	if err != nil {
		return err
	}
	defer closeStore()

	log := logger.NewWithWriter(stderr, cfg.Env, opts.logLevel)
	c, err := client.New(ctx, client.Config{
		Mode:              transport.Mode(opts.mode),
		CollectorURL:      opts.collectorURL,
		AppURL:            cfg.Telemetry.AppURL,
		AnalyticsInterval: cfg.Telemetry.AnalyticsInterval,
		MonitorInterval:   cfg.Telemetry.MonitorInterval,
		MaxQueueSize:      cfg.Telemetry.MaxQueueSize,
		FlushThreshold:    cfg.Telemetry.FlushThreshold,
		SendTimeout:       cfg.Telemetry.SendTimeout,
		SigningKey:        cfg.Telemetry.SigningKey,
	}, store, client.WithLogger(log), client.WithDispatcher(flush.SyncDispatcher))
	if err != nil {
		return err
	}

	switch cmd := rest[0]; cmd {
	case "status":
		state := "enabled"
		if !c.Enabled() {
			state = "disabled"
		}
		fmt.Fprintf(stdout, "telemetry: %s\n", state)
		return nil
	case "optout":
		if err := c.OptOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "telemetry: disabled")
		return nil
	case "optin":
		if err := c.OptIn(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "telemetry: enabled")
		return nil
	case "track":
		return track(ctx, c, rest[1:], stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func track(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: track needs an event name", errUsage)
	}
	props, err := parseProperties(args[1:])
	if err != nil {
		return err
	}
	if !c.Enabled() {
		fmt.Fprintln(stdout, "telemetry is disabled, nothing sent")
		return nil
	}

	c.Analytics().Track(ctx, args[0], props)
	if err := c.Analytics().Flush(ctx); err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	fmt.Fprintf(stdout, "sent %s (session %s)\n", args[0], c.SessionID())
	return c.Shutdown(ctx)
}

func parseProperties(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: property %q is not key=value", errUsage, pair)
		}
		props[key] = value
	}
	return props, nil
}

// openStore returns the Redis store when REDIS_URL is configured and the file
// store otherwise.
func openStore(ctx context.Context, cfg *config.Config, path string) (prefs.Store, func(), error) {
	if cfg.Redis.URL != "" {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return prefs.NewRedisStore(rc.Client), func() { _ = rc.Close() }, nil
	}
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, nil, fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(dir, "neurotravel", "telemetry.json")
	}
	return prefs.NewFileStore(path), func() {}, nil
}
