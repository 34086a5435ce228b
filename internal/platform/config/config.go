// Package config loads process configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	platformstrings "neurotravel/pkg/platform/strings"
)

// Telemetry modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Telemetry configures the client-side pipelines.
type Telemetry struct {
	Mode              string        `mapstructure:"TELEMETRY_MODE"`
	CollectorURL      string        `mapstructure:"TELEMETRY_COLLECTOR_URL"`
	AppURL            string        `mapstructure:"TELEMETRY_APP_URL"`
	AnalyticsInterval time.Duration `mapstructure:"TELEMETRY_ANALYTICS_INTERVAL"`
	MonitorInterval   time.Duration `mapstructure:"TELEMETRY_MONITOR_INTERVAL"`
	MaxQueueSize      int           `mapstructure:"TELEMETRY_MAX_QUEUE_SIZE"`
	FlushThreshold    int           `mapstructure:"TELEMETRY_FLUSH_THRESHOLD"`
	SendTimeout       time.Duration `mapstructure:"TELEMETRY_SEND_TIMEOUT"`
	PrefsPath         string        `mapstructure:"TELEMETRY_PREFS_PATH"`
	SigningKey        string        `mapstructure:"TELEMETRY_SIGNING_KEY"`
}

// RedisConfig holds Redis connection settings. An empty URL means Redis is
// not used.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// Collector configures the reference ingest service.
type Collector struct {
	Addr             string `mapstructure:"COLLECTOR_ADDR"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopicPrefix string `mapstructure:"KAFKA_TOPIC_PREFIX"`
	RequireToken     bool   `mapstructure:"COLLECTOR_REQUIRE_TOKEN"`
}

// Config is the full process configuration.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	Telemetry Telemetry   `mapstructure:",squash"`
	Redis     RedisConfig `mapstructure:",squash"`
	Collector Collector   `mapstructure:",squash"`
}

var defaults = map[string]any{
	"APP_ENV":                      "development",
	"LOG_LEVEL":                    "info",
	"TELEMETRY_MODE":               ModeDevelopment,
	"TELEMETRY_COLLECTOR_URL":      "",
	"TELEMETRY_APP_URL":            "",
	"TELEMETRY_ANALYTICS_INTERVAL": "30s",
	"TELEMETRY_MONITOR_INTERVAL":   "60s",
	"TELEMETRY_MAX_QUEUE_SIZE":     100,
	"TELEMETRY_FLUSH_THRESHOLD":    10,
	"TELEMETRY_SEND_TIMEOUT":       "10s",
	"TELEMETRY_PREFS_PATH":         "",
	"TELEMETRY_SIGNING_KEY":        "",
	"REDIS_URL":                    "",
	"REDIS_POOL_SIZE":              10,
	"REDIS_MIN_IDLE_CONNS":         2,
	"REDIS_DIAL_TIMEOUT":           "5s",
	"REDIS_READ_TIMEOUT":           "3s",
	"REDIS_WRITE_TIMEOUT":          "3s",
	"COLLECTOR_ADDR":               ":8090",
	"DATABASE_URL":                 "",
	"KAFKA_BROKERS":                "",
	"KAFKA_TOPIC_PREFIX":           "neurotravel.telemetry",
	"COLLECTOR_REQUIRE_TOKEN":      false,
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	t := c.Telemetry
	switch t.Mode {
	case ModeDevelopment:
	case ModeProduction:
		if t.CollectorURL == "" {
			return errors.New("config: TELEMETRY_COLLECTOR_URL must be set when TELEMETRY_MODE=production")
		}
	default:
		return fmt.Errorf("config: TELEMETRY_MODE must be %q or %q, got %q", ModeDevelopment, ModeProduction, t.Mode)
	}
	if t.AnalyticsInterval <= 0 || t.MonitorInterval <= 0 {
		return errors.New("config: flush intervals must be positive")
	}
	if t.MaxQueueSize <= 0 {
		return errors.New("config: TELEMETRY_MAX_QUEUE_SIZE must be positive")
	}
	if t.FlushThreshold <= 0 {
		return errors.New("config: TELEMETRY_FLUSH_THRESHOLD must be positive")
	}
	if t.SendTimeout <= 0 {
		return errors.New("config: TELEMETRY_SEND_TIMEOUT must be positive")
	}
	if c.Collector.RequireToken && t.SigningKey == "" {
		return errors.New("config: COLLECTOR_REQUIRE_TOKEN needs TELEMETRY_SIGNING_KEY")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// KafkaBrokersList returns the broker addresses from the comma-separated
// KAFKA_BROKERS. An empty list means Kafka forwarding is off.
func (c *Collector) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(c.KafkaBrokers, ","))
}
