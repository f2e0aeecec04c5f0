package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ryhazerus/flowguard"
	"github.com/ryhazerus/flowguard/backoff"
	"github.com/ryhazerus/flowguard/retry"
	"github.com/ryhazerus/flowguard/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleConfig = `
logging:
  level: debug
  format: console
rate_limit:
  default:
    kind: leaky_bucket
    rate: 5
    capacity: 10
  endpoints:
    - pattern: "GET /users/*"
      kind: fixed_window
      limit: 100
      window: 1m
    - pattern: "POST /shares"
      kind: adaptive
      base:
        kind: token_bucket
        rate: 20
        capacity: 40
      adaptive:
        decay: 0.25
        success_threshold: 5
retry:
  max_retries: 5
  backoff:
    base: 50ms
    multiplier: 3
    max: 10s
    jitter: equal
  seed: 42
tracker:
  interval: 2s
  timeout: 5m
  transient_budget: 4
  codes:
    success: [Completed]
    in_progress: [Running]
    transient: [Initializing]
    failure: [Failed, Error]
`

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Driver)

	assert.Equal(t, flowguard.KindLeakyBucket, cfg.RateLimit.Default.Kind)
	assert.Equal(t, 5.0, cfg.RateLimit.Default.Rate)

	require.Len(t, cfg.RateLimit.Endpoints, 2)
	users := cfg.RateLimit.Endpoints[0]
	assert.Equal(t, "GET /users/*", users.Pattern)
	assert.Equal(t, flowguard.KindFixedWindow, users.Kind)
	assert.Equal(t, 100, users.Limit)
	assert.Equal(t, time.Minute, users.Window)

	shares := cfg.RateLimit.Endpoints[1]
	assert.Equal(t, flowguard.KindAdaptive, shares.Kind)
	require.NotNil(t, shares.Base)
	assert.Equal(t, flowguard.KindTokenBucket, shares.Base.Kind)
	assert.Equal(t, 0.25, shares.Adaptive.Decay)
	assert.Equal(t, 5, shares.Adaptive.SuccessThreshold)

	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.Backoff.Base)
	assert.Equal(t, 3.0, cfg.Retry.Backoff.Multiplier)
	assert.Equal(t, backoff.JitterEqual, cfg.Retry.Backoff.Jitter)

	assert.Equal(t, 2*time.Second, cfg.Tracker.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.Timeout)
	assert.Equal(t, 4, cfg.Tracker.TransientBudget)
	assert.Equal(t, []string{"Failed", "Error"}, cfg.Tracker.Codes.Failure)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, flowguard.KindTokenBucket, cfg.RateLimit.Default.Kind)
	assert.Equal(t, 10.0, cfg.RateLimit.Default.Rate)
	assert.Equal(t, 20, cfg.RateLimit.Default.Capacity)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Backoff.Base)
	assert.Equal(t, time.Second, cfg.Tracker.Interval)
	assert.Equal(t, track.DefaultTransientBudget, cfg.Tracker.TransientBudget)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLOWGUARD_RETRY_MAX_RETRIES", "7")
	t.Setenv("FLOWGUARD_TRACKER_INTERVAL", "250ms")
	t.Setenv("FLOWGUARD_RATE_LIMIT_DEFAULT_KIND", "fixed_window")
	t.Setenv("FLOWGUARD_RATE_LIMIT_DEFAULT_LIMIT", "30")
	t.Setenv("FLOWGUARD_RATE_LIMIT_DEFAULT_WINDOW", "1h")

	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.Interval)
	assert.Equal(t, flowguard.KindFixedWindow, cfg.RateLimit.Default.Kind)
	assert.Equal(t, 30, cfg.RateLimit.Default.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimit.Default.Window)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: etcd\n"},
		{"sqlite without path", "store:\n  driver: sqlite\n"},
		{"redis without addr", "store:\n  driver: redis\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad kind", "rate_limit:\n  default:\n    kind: sliding_log\n"},
		{"bad endpoint", "rate_limit:\n  endpoints:\n    - pattern: x\n      kind: fixed_window\n"},
		{"missing pattern", "rate_limit:\n  endpoints:\n    - kind: token_bucket\n      rate: 1\n      capacity: 1\n"},
		{"bad backoff", "retry:\n  backoff:\n    base: 10s\n    max: 1s\n"},
		{"negative retries", "retry:\n  max_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestBuildMemory(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	rt, err := cfg.Build()
	require.NoError(t, err)
	defer rt.Close()

	s, err := rt.Manager.Strategy("GET /users/42")
	require.NoError(t, err)
	assert.Equal(t, flowguard.KindFixedWindow, s.Kind())

	s, err = rt.Manager.Strategy("POST /shares")
	require.NoError(t, err)
	assert.Equal(t, flowguard.KindAdaptive, s.Kind())

	s, err = rt.Manager.Strategy("DELETE /devices/1")
	require.NoError(t, err)
	assert.Equal(t, flowguard.KindLeakyBucket, s.Kind())

	assert.Equal(t, 5, rt.Retry.MaxRetries)
	assert.Same(t, rt.Manager, rt.Retry.Admission)
	assert.Equal(t, track.StatusFailure, rt.Codes.Classify("Error"))

	// A seeded policy is reproducible.
	again, err := cfg.Build()
	require.NoError(t, err)
	defer again.Close()
	for n := 0; n < 5; n++ {
		assert.Equal(t, rt.Backoff.Delay(n), again.Backoff.Delay(n))
	}
}

func TestBuildRetryAndTrackerWork(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	rt, err := cfg.Build()
	require.NoError(t, err)
	defer rt.Close()

	p := rt.RetryFor("GET /users/1")
	p.Sleeper = func(context.Context, time.Duration) flowguard.WaitResult { return flowguard.Ready }

	calls := 0
	v, err := retry.Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", flowguard.MarkTransient(assert.AnError)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	st, ok := rt.Manager.Stats("GET /users/1")
	require.True(t, ok)
	assert.Equal(t, int64(3), st.TotalRequests)

	poll := track.ByCode(rt.Codes, func(context.Context, track.Handle) (string, string, error) {
		return "Completed", "done", nil
	})
	snap, err := track.Track(context.Background(), track.Handle{ID: "1"}, poll, rt.TrackOptions...)
	require.NoError(t, err)
	assert.Equal(t, "done", snap.Value)
}

func TestBuildSQLiteAndTiered(t *testing.T) {
	for _, driver := range []string{"sqlite", "tiered"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "counters.db")
			body := "store:\n  driver: " + driver + "\n  path: " + path + "\n" +
				"rate_limit:\n  default:\n    kind: fixed_window\n    limit: 2\n    window: 1h\n"

			cfg, err := Load(writeConfig(t, body))
			require.NoError(t, err)
			rt, err := cfg.Build()
			require.NoError(t, err)
			defer rt.Close()

			ctx := context.Background()
			for i := 0; i < 2; i++ {
				ok, err := rt.Manager.Acquire(ctx, "svc", 1)
				require.NoError(t, err)
				require.True(t, ok)
			}
			ok, err := rt.Manager.Acquire(ctx, "svc", 1)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBuildRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	body := "store:\n  driver: redis\n  redis:\n    addr: " + mr.Addr() + "\n" +
		"rate_limit:\n  default:\n    kind: fixed_window\n    limit: 1\n    window: 1h\n"

	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	rt, err := cfg.Build()
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	ok, err := rt.Manager.Acquire(ctx, "svc", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.Manager.Acquire(ctx, "svc", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("flowguard:svc"))
}

func TestRuntimeRetryForBindsKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	rt, err := cfg.Build()
	require.NoError(t, err)
	defer rt.Close()

	assert.Empty(t, rt.Retry.Key)

	p := rt.RetryFor("POST /shares")
	assert.Equal(t, "POST /shares", p.Key)
	assert.Same(t, rt.Manager, p.Admission)
	assert.Equal(t, rt.Retry.MaxRetries, p.MaxRetries)
	assert.Empty(t, rt.Retry.Key, "RetryFor must not modify the shared policy")

	p.Sleeper = func(context.Context, time.Duration) flowguard.WaitResult { return flowguard.Ready }
	require.NoError(t, retry.Run(context.Background(), p, func(context.Context) error { return nil }))

	_, ok := rt.Manager.Stats("POST /shares")
	assert.True(t, ok, "admission should be charged to the bound key")
	_, ok = rt.Manager.Stats("")
	assert.False(t, ok)
}
