package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bridge configuration
type Config struct {
	// Database configuration
	DatabaseDriver string `mapstructure:"database_driver"` // sqlite3, postgres
	DatabasePath   string `mapstructure:"database_path"`   // sqlite3 only
	DatabaseDSN    string `mapstructure:"database_dsn"`    // postgres only

	// HTTP/streaming surface
	ListenAddr string `mapstructure:"listen_addr"`

	// Device connection configuration
	ConnectTimeout  int `mapstructure:"connect_timeout"`   // seconds
	ReadTimeout     int `mapstructure:"read_timeout"`      // seconds
	ConnectAttempts int `mapstructure:"connect_attempts"`  // max connect retries
	ConnectBackoff  int `mapstructure:"connect_backoff"`   // base delay in ms, grows linearly per attempt

	// Sync configuration
	CheckpointDefaultDays int `mapstructure:"checkpoint_default_days"` // first-run fetch window

	// Monitor configuration
	PollInterval     int    `mapstructure:"poll_interval"`      // seconds between polls
	PollRetryWait    int    `mapstructure:"poll_retry_wait"`    // ms to wait before the single poll retry
	AutoStartMonitor bool   `mapstructure:"auto_start_monitor"` // start fleet monitoring on serve
	MonitorStrategy  string `mapstructure:"monitor_strategy"`   // count_delta, push or auto

	// Realtime configuration
	EventBufferSize int `mapstructure:"event_buffer_size"` // per-subscriber buffer

	// Redis relay configuration (optional)
	RedisEnabled  bool   `mapstructure:"redis_enabled"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		DatabaseDriver:        "sqlite3",
		DatabasePath:          "./attendance.db",
		ListenAddr:            ":8090",
		ConnectTimeout:        10,
		ReadTimeout:           10,
		ConnectAttempts:       3,
		ConnectBackoff:        500,
		CheckpointDefaultDays: 7,
		PollInterval:          10,
		PollRetryWait:         1000,
		AutoStartMonitor:      true,
		MonitorStrategy:       "count_delta",
		EventBufferSize:       64,
		RedisEnabled:          false,
		RedisAddr:             "localhost:6379",
		RedisChannel:          "attendance.events",
		LogLevel:              "info",
		LogFile:               "",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/attendance-bridge")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".attendance-bridge"))
		}
	}

	v.SetEnvPrefix("ATTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values with viper
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database_driver", cfg.DatabaseDriver)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("database_dsn", cfg.DatabaseDSN)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)
	v.SetDefault("read_timeout", cfg.ReadTimeout)
	v.SetDefault("connect_attempts", cfg.ConnectAttempts)
	v.SetDefault("connect_backoff", cfg.ConnectBackoff)
	v.SetDefault("checkpoint_default_days", cfg.CheckpointDefaultDays)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("poll_retry_wait", cfg.PollRetryWait)
	v.SetDefault("auto_start_monitor", cfg.AutoStartMonitor)
	v.SetDefault("monitor_strategy", cfg.MonitorStrategy)
	v.SetDefault("event_buffer_size", cfg.EventBufferSize)
	v.SetDefault("redis_enabled", cfg.RedisEnabled)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("redis_password", cfg.RedisPassword)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("redis_channel", cfg.RedisChannel)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3":
		if c.DatabasePath == "" {
			return fmt.Errorf("database_path is required for sqlite3")
		}
	case "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database_dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database_driver: %s", c.DatabaseDriver)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("connect_attempts must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	switch c.MonitorStrategy {
	case "count_delta", "push", "auto":
	default:
		return fmt.Errorf("unsupported monitor_strategy: %s", c.MonitorStrategy)
	}
	if c.CheckpointDefaultDays <= 0 {
		return fmt.Errorf("checkpoint_default_days must be positive")
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event_buffer_size must be positive")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required when redis_enabled is set")
	}

	return nil
}

// ConnectTimeoutDuration returns the connect timeout as a duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// ReadTimeoutDuration returns the per-operation read timeout as a duration.
func (c *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// ConnectBackoffDuration returns the base connect backoff as a duration.
func (c *Config) ConnectBackoffDuration() time.Duration {
	return time.Duration(c.ConnectBackoff) * time.Millisecond
}

// PollIntervalDuration returns the monitor poll interval as a duration.
func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// PollRetryWaitDuration returns the wait before a poll retry as a duration.
func (c *Config) PollRetryWaitDuration() time.Duration {
	return time.Duration(c.PollRetryWait) * time.Millisecond
}

// DefaultCheckpoint returns the fetch-window start used when a device has
// never completed a sync.
func (c *Config) DefaultCheckpoint(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.CheckpointDefaultDays)
}
