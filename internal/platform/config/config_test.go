package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inEmptyDir runs Load from a directory without a .env file.
func inEmptyDir(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	inEmptyDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeDevelopment, cfg.Telemetry.Mode)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.AnalyticsInterval)
	assert.Equal(t, 60*time.Second, cfg.Telemetry.MonitorInterval)
	assert.Equal(t, 100, cfg.Telemetry.MaxQueueSize)
	assert.Equal(t, 10, cfg.Telemetry.FlushThreshold)
	assert.Equal(t, 10*time.Second, cfg.Telemetry.SendTimeout)
	assert.Equal(t, ":8090", cfg.Collector.Addr)
	assert.Equal(t, "neurotravel.telemetry", cfg.Collector.KafkaTopicPrefix)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
	assert.False(t, cfg.IsProduction())
	assert.Nil(t, cfg.Collector.KafkaBrokersList())
}

func TestLoad_EnvVarOverride(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("TELEMETRY_MODE", "production")
	t.Setenv("TELEMETRY_COLLECTOR_URL", "https://collector.example")
	t.Setenv("TELEMETRY_ANALYTICS_INTERVAL", "5s")
	t.Setenv("TELEMETRY_MAX_QUEUE_SIZE", "250")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Telemetry.Mode)
	assert.Equal(t, "https://collector.example", cfg.Telemetry.CollectorURL)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.AnalyticsInterval)
	assert.Equal(t, 250, cfg.Telemetry.MaxQueueSize)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Collector.KafkaBrokersList())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_WithEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TELEMETRY_FLUSH_THRESHOLD=25\nCOLLECTOR_ADDR=:9999\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("COLLECTOR_ADDR", ":7777")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Telemetry.FlushThreshold)
	assert.Equal(t, ":7777", cfg.Collector.Addr, "env overrides .env")
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown mode", map[string]string{"TELEMETRY_MODE": "staging"}},
		{"production without collector", map[string]string{"TELEMETRY_MODE": "production"}},
		{"zero interval", map[string]string{"TELEMETRY_MONITOR_INTERVAL": "0s"}},
		{"zero queue size", map[string]string{"TELEMETRY_MAX_QUEUE_SIZE": "0"}},
		{"zero threshold", map[string]string{"TELEMETRY_FLUSH_THRESHOLD": "0"}},
		{"zero send timeout", map[string]string{"TELEMETRY_SEND_TIMEOUT": "0s"}},
		{"token required without key", map[string]string{"COLLECTOR_REQUIRE_TOKEN": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inEmptyDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
