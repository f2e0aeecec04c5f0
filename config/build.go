package config

import (
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ryhazerus/flowguard"
	"github.com/ryhazerus/flowguard/backoff"
	"github.com/ryhazerus/flowguard/retry"
	"github.com/ryhazerus/flowguard/store"
	redisstore "github.com/ryhazerus/flowguard/store/redis"
	"github.com/ryhazerus/flowguard/track"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Runtime holds everything Build wires together from a Config.
type Runtime struct {
	Logger  *zap.Logger
	Store   store.Store
	Manager *flowguard.Manager
	Backoff backoff.Policy
	// Retry gates every attempt through Manager under Retry.Key, which Build
	// leaves empty. Use RetryFor to get a copy bound to an endpoint key.
	Retry        retry.Policy
	TrackOptions []track.Option
	Codes        track.Classifier
}

// Build creates the logger, counter store and manager described by c, and
// the retry and tracking settings that go with them.
func (c *Config) Build() (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger, err := c.Logging.build()
	if err != nil {
		return nil, err
	}

	st, err := c.Store.build()
	if err != nil {
		return nil, err
	}

	m := flowguard.New(
		flowguard.WithStore(st),
		flowguard.WithLogger(logger.Named("ratelimit")),
		flowguard.WithDefaultStrategy(c.RateLimit.Default),
	)
	for _, e := range c.RateLimit.Endpoints {
		if err := m.Register(flowguard.Endpoint{Pattern: e.Pattern, Strategy: e.StrategyConfig}); err != nil {
			return nil, errors.Join(err, m.Close())
		}
	}

	b := c.Retry.Backoff.WithDefaults()
	if c.Retry.Seed != 0 {
		b = b.Seeded(c.Retry.Seed)
	}

	trackOpts := []track.Option{
		track.WithInterval(c.Tracker.Interval),
		track.WithTimeout(c.Tracker.Timeout),
		track.WithTransientBudget(c.Tracker.TransientBudget),
		track.WithMaxPolls(c.Tracker.MaxPolls),
		track.WithLogger(logger.Named("track")),
	}
	if c.Tracker.UseBackoff {
		trackOpts = append(trackOpts, track.WithBackoff(b))
	}

	logger.Debug("flowguard runtime built",
		zap.String("store", c.Store.Driver),
		zap.Int("endpoints", len(c.RateLimit.Endpoints)),
		zap.Stringer("default_strategy", c.RateLimit.Default.Kind),
	)

	return &Runtime{
		Logger:  logger,
		Store:   st,
		Manager: m,
		Backoff: b,
		Retry: retry.Policy{
			MaxRetries: c.Retry.MaxRetries,
			Backoff:    b,
			Admission:  m,
			Logger:     logger.Named("retry"),
		},
		TrackOptions: trackOpts,
		Codes:        c.Tracker.Codes,
	}, nil
}

// RetryFor returns the configured retry policy admitted under key.
func (r *Runtime) RetryFor(key string) retry.Policy {
	p := r.Retry
	p.Key = key
	return p
}

// Close releases the counter store and flushes the logger.
func (r *Runtime) Close() error {
	err := r.Manager.Close()
	// Sync fails on some terminals; only the store error matters.
	_ = r.Logger.Sync()
	return err
}

func (l LoggingConfig) build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return nil, fmt.Errorf("config: logging level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger.Named("flowguard"), nil
}

func (s StoreConfig) build() (store.Store, error) {
	switch s.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		sqlite, err := store.NewSQLiteStore(s.Path)
		if err != nil {
			return nil, err
		}
		return sqlite, nil
	case "tiered":
		persistent, err := store.NewSQLiteStore(s.Path)
		if err != nil {
			return nil, err
		}
		return store.NewTieredStore(persistent), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		return redisstore.NewRedisStore(client), nil
	}
	return nil, fmt.Errorf("config: unknown store driver %q", s.Driver)
}
