package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.ConnectAttempts)
	assert.Equal(t, 7, cfg.CheckpointDefaultDays)
	assert.Equal(t, "count_delta", cfg.MonitorStrategy)
	assert.True(t, cfg.AutoStartMonitor)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ListenAddr, cfg.ListenAddr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
listen_addr: ":9999"
connect_attempts: 5
poll_interval: 30
monitor_strategy: push
redis_enabled: true
redis_addr: "redis.internal:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.ConnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, "push", cfg.MonitorStrategy)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver, "unset keys keep defaults")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing sqlite path", func(c *Config) { c.DatabasePath = "" }},
		{"postgres without dsn", func(c *Config) { c.DatabaseDriver = "postgres"; c.DatabaseDSN = "" }},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "oracle" }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero connect attempts", func(c *Config) { c.ConnectAttempts = 0 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"bad strategy", func(c *Config) { c.MonitorStrategy = "sometimes" }},
		{"zero checkpoint window", func(c *Config) { c.CheckpointDefaultDays = 0 }},
		{"zero event buffer", func(c *Config) { c.EventBufferSize = 0 }},
		{"redis enabled without addr", func(c *Config) { c.RedisEnabled = true; c.RedisAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeoutDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectBackoffDuration())
	assert.Equal(t, time.Second, cfg.PollRetryWaitDuration())

	now := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), cfg.DefaultCheckpoint(now))
}
