// Package config loads flowguard settings from a YAML file and FLOWGUARD_
// environment variables and builds the runtime pieces from them.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ryhazerus/flowguard"
	"github.com/ryhazerus/flowguard/backoff"
	"github.com/ryhazerus/flowguard/track"
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
}

// LoggingConfig selects the zap logger built by Build.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
}

// StoreConfig selects the fixed-window counter backend.
type StoreConfig struct {
	// Driver is memory, sqlite, tiered or redis.
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database used by the sqlite and tiered drivers.
	Path string `mapstructure:"path"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig locates the Redis server used by the redis driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig configures the manager's strategies.
type RateLimitConfig struct {
	Default   flowguard.StrategyConfig `mapstructure:"default"`
	Endpoints []EndpointConfig         `mapstructure:"endpoints"`
}

// EndpointConfig is one endpoint pattern with its strategy fields inline.
type EndpointConfig struct {
	Pattern                  string `mapstructure:"pattern"`
	flowguard.StrategyConfig `mapstructure:",squash"`
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxRetries int            `mapstructure:"max_retries"`
	Backoff    backoff.Policy `mapstructure:"backoff"`
	// Seed makes backoff jitter reproducible when non-zero.
	Seed uint64 `mapstructure:"seed"`
}

// TrackerConfig configures task status tracking.
type TrackerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	TransientBudget int           `mapstructure:"transient_budget"`
	MaxPolls        int           `mapstructure:"max_polls"`
	// UseBackoff spaces polls with the retry backoff instead of Interval.
	UseBackoff bool             `mapstructure:"use_backoff"`
	Codes      track.Classifier `mapstructure:"codes"`
}

var drivers = map[string]bool{"memory": true, "sqlite": true, "tiered": true, "redis": true}

// Validate checks the configuration for values Build cannot use.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}

	if !drivers[c.Store.Driver] {
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "tiered") && c.Store.Path == "" {
		return fmt.Errorf("config: store driver %q requires store.path", c.Store.Driver)
	}
	if c.Store.Driver == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("config: store driver redis requires store.redis.addr")
	}

	if err := c.RateLimit.Default.Validate(); err != nil {
		return fmt.Errorf("config: rate_limit.default: %w", err)
	}
	for i, e := range c.RateLimit.Endpoints {
		if e.Pattern == "" {
			return fmt.Errorf("config: rate_limit.endpoints[%d]: pattern is required", i)
		}
		if err := e.StrategyConfig.Validate(); err != nil {
			return fmt.Errorf("config: rate_limit.endpoints[%d] (%s): %w", i, e.Pattern, err)
		}
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if err := c.Retry.Backoff.Validate(); err != nil {
		return fmt.Errorf("config: retry.backoff: %w", err)
	}

	if c.Tracker.Interval <= 0 {
		return fmt.Errorf("config: tracker.interval must be positive, got %v", c.Tracker.Interval)
	}
	if c.Tracker.Timeout < 0 || c.Tracker.TransientBudget < 0 || c.Tracker.MaxPolls < 0 {
		return fmt.Errorf("config: tracker timeout, transient_budget and max_polls must not be negative")
	}
	return nil
}
