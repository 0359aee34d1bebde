// Package config handles application configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (UPTRACK_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	data_dir: /var/lib/uptrack
//	debug: false
//
//	monitor:
//	  poll_interval_seconds: 30
//	  ping_timeout_ms: 1500
//	  tcp_fallback_enabled: true
//	  tcp_fallback_ports: [80, 443, 22]
//
//	log:
//	  max_entries: 500
//
//	startup:
//	  delay_seconds: 3
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uptrack-net/uptrack/pkg/types"
)

// Config is the complete application configuration.
type Config struct {
	// DataDir holds the three JSON documents (devices, events, settings).
	DataDir string `yaml:"data_dir"`
	Debug   bool   `yaml:"debug"`

	// Monitor seeds the settings store on first run. After that the
	// settings document is authoritative and edited at runtime.
	Monitor types.MonitorOptions `yaml:"monitor"`

	Log     LogConfig     `yaml:"log"`
	Startup StartupConfig `yaml:"startup"`
}

// LogConfig bounds the event log.
type LogConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// StartupConfig tunes process startup.
type StartupConfig struct {
	// DelaySeconds is the wait before the monitor's first probe cycle.
	DelaySeconds int `yaml:"delay_seconds"`
}

// Delay returns the startup delay as a duration.
func (s StartupConfig) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Monitor: types.DefaultMonitorOptions(),
		Log: LogConfig{
			MaxEntries: 500,
		},
		Startup: StartupConfig{
			DelaySeconds: 3,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides:
// - UPTRACK_DATA_DIR
// - UPTRACK_DEBUG (1/true)
// - UPTRACK_POLL_INTERVAL_SECONDS
// - UPTRACK_PING_TIMEOUT_MS
// - UPTRACK_LOG_MAX_ENTRIES
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("UPTRACK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("UPTRACK_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := os.Getenv("UPTRACK_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("UPTRACK_PING_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.PingTimeoutMs = n
		}
	}
	if v := os.Getenv("UPTRACK_LOG_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Log.MaxEntries = n
		}
	}
}

// Validate checks that required configuration is present and in bounds.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if c.Log.MaxEntries <= 0 {
		return fmt.Errorf("log.max_entries must be positive, got %d", c.Log.MaxEntries)
	}
	if c.Startup.DelaySeconds < 0 {
		return fmt.Errorf("startup.delay_seconds must not be negative")
	}
	return nil
}
