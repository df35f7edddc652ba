// Package config loads and watches the runtime configuration for the
// aspect subsystems.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Zero values are filled in
// by Normalize; Default returns a fully populated instance.
type Config struct {
	Cache      CacheConfig      `yaml:"cache"`
	Events     EventsConfig     `yaml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Notify     NotifyConfig     `yaml:"notify"`
	Persist    PersistConfig    `yaml:"persist"`
}

// CacheConfig tunes the default cache built by the runtime facade.
type CacheConfig struct {
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Policy     string        `yaml:"policy"` // lru, lfu, fifo
	SweepEvery time.Duration `yaml:"sweep_every"`
}

// EventsConfig tunes the event bus, store and aggregator.
type EventsConfig struct {
	StoreCapacity int           `yaml:"store_capacity"`
	AsyncBuffer   int           `yaml:"async_buffer"`
	BatchSize     int           `yaml:"batch_size"`
	BatchMaxWait  time.Duration `yaml:"batch_max_wait"`
}

// MetricsConfig tunes metric exposition.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MonitoringConfig tunes the monitoring loop.
type MonitoringConfig struct {
	Interval     time.Duration `yaml:"interval"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// NotifyConfig tunes notification dispatch.
type NotifyConfig struct {
	RetryMaxAttempts  int           `yaml:"retry_max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMultiplier   float64       `yaml:"retry_multiplier"`
	TickInterval      time.Duration `yaml:"tick_interval"`
}

// PersistConfig selects the snapshot store location; empty disables
// persistence.
type PersistConfig struct {
	Path string `yaml:"path"`
}

// Default returns the fully populated default configuration.
func Default() Config {
	cfg := Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults and clamps nonsense.
func (c *Config) Normalize() {
	if c.Cache.MaxSize < 0 {
		c.Cache.MaxSize = 0
	}
	if c.Cache.Policy == "" {
		c.Cache.Policy = "lru"
	}
	if c.Events.StoreCapacity <= 0 {
		c.Events.StoreCapacity = 10000
	}
	if c.Events.AsyncBuffer <= 0 {
		c.Events.AsyncBuffer = 256
	}
	if c.Events.BatchSize <= 0 {
		c.Events.BatchSize = 100
	}
	if c.Events.BatchMaxWait <= 0 {
		c.Events.BatchMaxWait = time.Second
	}
	if c.Monitoring.Interval <= 0 {
		c.Monitoring.Interval = 15 * time.Second
	}
	if c.Monitoring.CheckTimeout <= 0 {
		c.Monitoring.CheckTimeout = 5 * time.Second
	}
	if c.Notify.RetryMaxAttempts <= 0 {
		c.Notify.RetryMaxAttempts = 3
	}
	if c.Notify.RetryInitialDelay <= 0 {
		c.Notify.RetryInitialDelay = 100 * time.Millisecond
	}
	if c.Notify.RetryMultiplier <= 0 {
		c.Notify.RetryMultiplier = 2.0
	}
	if c.Notify.TickInterval <= 0 {
		c.Notify.TickInterval = time.Second
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Cache.Policy {
	case "lru", "lfu", "fifo":
	default:
		return fmt.Errorf("config: unknown cache policy %q", c.Cache.Policy)
	}
	return nil
}

// Load reads, normalizes and validates a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
