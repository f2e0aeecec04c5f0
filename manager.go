package flowguard

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ryhazerus/flowguard/store"
	"go.uber.org/zap"
)

// DefaultStrategy is used for keys matching no registered endpoint when no
// WithDefaultStrategy option is given: a token bucket of 20 refilling at 10/s.
var DefaultStrategy = StrategyConfig{Kind: KindTokenBucket, Rate: 10, Capacity: 20}

// Manager owns one strategy instance per endpoint key and serialises
// admission through it. Instances are created lazily on first use from the
// first registered endpoint whose pattern matches the key, or from the
// default strategy.
type Manager struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	keys      map[string]*keyState

	defaultStrategy StrategyConfig
	store           store.Store
	clock           Clock
	sleep           Sleeper
	logger          *zap.Logger
	onThrottled     func(key string, d Decision)
	keyFunc         func(*http.Request) string
}

type keyState struct {
	strategy Strategy
	counters counters
}

// New creates a new Manager with the given options.
// If no store is provided, an in-memory store is used.
func New(opts ...Option) *Manager {
	m := &Manager{
		keys:            make(map[string]*keyState),
		defaultStrategy: DefaultStrategy,
	}
	for _, o := range opts {
		o(m)
	}
	if m.store == nil {
		m.store = store.NewMemoryStore()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.sleep == nil {
		m.sleep = Sleep
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.keyFunc == nil {
		m.keyFunc = requestKey
	}
	return m
}

// Register adds an endpoint pattern. Keys already resolved keep their
// strategy; only keys seen afterwards pick up the new endpoint.
func (m *Manager) Register(e Endpoint) error {
	if err := e.Strategy.Validate(); err != nil {
		return fmt.Errorf("flowguard: endpoint %q: %w", e.Pattern, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, e)
	return nil
}

// SetStrategy installs s as the strategy for exactly key, replacing any
// existing one and its counters.
func (m *Manager) SetStrategy(key string, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = &keyState{strategy: s}
	m.logger.Debug("strategy set", zap.String("key", key), zap.Stringer("kind", s.Kind()))
}

// Strategy returns the strategy for key, creating it if needed.
func (m *Manager) Strategy(key string) (Strategy, error) {
	ks, err := m.state(key)
	if err != nil {
		return nil, err
	}
	return ks.strategy, nil
}

// Endpoints returns a copy of all registered endpoints.
func (m *Manager) Endpoints() []Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Endpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out
}

// Acquire tries to take tokens for key without blocking. A leaky bucket's
// queueing delay is not honoured here; use Reserve or Wait for that.
func (m *Manager) Acquire(ctx context.Context, key string, tokens int) (bool, error) {
	d, err := m.Reserve(ctx, key, tokens)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Reserve tries to take tokens for key without blocking and returns the
// full decision.
func (m *Manager) Reserve(ctx context.Context, key string, tokens int) (Decision, error) {
	ks, err := m.state(key)
	if err != nil {
		return Decision{}, err
	}
	ks.counters.total.Add(1)

	d, err := ks.strategy.TryAcquire(ctx, tokens)
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		m.throttled(ks, key, d)
	}
	return d, nil
}

// Wait blocks until tokens for key are admitted or ctx is done. When the
// context deadline cannot be met it gives up immediately instead of
// sleeping towards a certain failure. Either way it returns a
// *RateLimitExceededError carrying the computed retry-after.
func (m *Manager) Wait(ctx context.Context, key string, tokens int) error {
	ks, err := m.state(key)
	if err != nil {
		return err
	}
	ks.counters.total.Add(1)

	start := m.clock()
	throttled := false
	for {
		d, err := ks.strategy.TryAcquire(ctx, tokens)
		if err != nil {
			return err
		}

		if d.Allowed {
			if d.Delay > 0 {
				m.logger.Debug("queued for admission", zap.String("key", key), zap.Duration("delay", d.Delay))
				if res := m.sleep(ctx, d.Delay); res != Ready {
					if r, ok := ks.strategy.(Releaser); ok {
						r.Release(tokens)
					}
					return m.exceeded(ks, key, tokens, d.Delay, start, res.Err())
				}
			}
			ks.counters.addWait(m.clock().Sub(start))
			return nil
		}

		if !throttled {
			throttled = true
			m.throttled(ks, key, d)
		}

		retryAfter := d.RetryAfter
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(time.Now().Add(retryAfter)) {
			return m.exceeded(ks, key, tokens, retryAfter, start, context.DeadlineExceeded)
		}

		m.logger.Debug("rate limit reached, waiting",
			zap.String("key", key),
			zap.Int("tokens", tokens),
			zap.Duration("retry_after", retryAfter),
		)
		if res := m.sleep(ctx, retryAfter); res != Ready {
			return m.exceeded(ks, key, tokens, retryAfter, start, res.Err())
		}
	}
}

// ReportThrottled feeds a 429-class response for key into its strategy.
// Only adaptive strategies react.
func (m *Manager) ReportThrottled(key string, retryAfter time.Duration) {
	ks, err := m.state(key)
	if err != nil {
		return
	}
	if o, ok := ks.strategy.(Observer); ok {
		o.OnThrottled(retryAfter)
		m.logger.Info("remote throttling reported", zap.String("key", key), zap.Duration("retry_after", retryAfter))
	}
}

// ReportSuccess feeds a successful response for key into its strategy.
func (m *Manager) ReportSuccess(key string) {
	ks, err := m.state(key)
	if err != nil {
		return
	}
	if o, ok := ks.strategy.(Observer); ok {
		o.OnSuccess()
	}
}

// Stats returns the counters for key. The second result is false when the
// key has not been seen.
func (m *Manager) Stats(key string) (Stats, bool) {
	m.mu.RLock()
	ks, ok := m.keys[key]
	m.mu.RUnlock()
	if !ok {
		return Stats{Key: key}, false
	}
	return ks.counters.snapshot(key), true
}

// Snapshot returns the counters of every known key, sorted by key.
func (m *Manager) Snapshot() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.keys))
	for key, ks := range m.keys {
		out = append(out, ks.counters.snapshot(key))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ResetStats zeroes the counters of every key. Strategy state is kept.
func (m *Manager) ResetStats() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ks := range m.keys {
		ks.counters.reset()
	}
	m.logger.Debug("rate limit statistics reset")
}

// Close releases resources held by the manager's store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) state(key string) (*keyState, error) {
	m.mu.RLock()
	ks, ok := m.keys[key]
	m.mu.RUnlock()
	if ok {
		return ks, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ks, ok := m.keys[key]; ok {
		return ks, nil
	}

	cfg := m.resolveLocked(key)
	s, err := cfg.Build(WithClock(m.clock), WithCounterStore(m.store, key))
	if err != nil {
		return nil, fmt.Errorf("flowguard: strategy for %q: %w", key, err)
	}
	ks = &keyState{strategy: s}
	m.keys[key] = ks
	m.logger.Debug("strategy created", zap.String("key", key), zap.Stringer("kind", s.Kind()))
	return ks, nil
}

// resolveLocked picks the endpoint config for key: an exact pattern first,
// then the first matching glob or prefix in registration order.
func (m *Manager) resolveLocked(key string) StrategyConfig {
	for _, e := range m.endpoints {
		if e.Pattern == key {
			return e.Strategy
		}
	}
	for _, e := range m.endpoints {
		if matchKey(key, e.Pattern) {
			return e.Strategy
		}
	}
	return m.defaultStrategy
}

func (m *Manager) throttled(ks *keyState, key string, d Decision) {
	ks.counters.throttled.Add(1)
	if m.onThrottled != nil {
		m.onThrottled(key, d)
	}
}

func (m *Manager) exceeded(ks *keyState, key string, tokens int, retryAfter time.Duration, start time.Time, cause error) error {
	waited := m.clock().Sub(start)
	ks.counters.addWait(waited)
	m.logger.Warn("failed to acquire rate limit",
		zap.String("key", key),
		zap.Int("tokens", tokens),
		zap.Duration("retry_after", retryAfter),
		zap.Duration("waited", waited),
		zap.Error(cause),
	)
	return &RateLimitExceededError{
		Key:        key,
		Tokens:     tokens,
		RetryAfter: retryAfter,
		Waited:     waited,
		Err:        cause,
		resetAt:    time.Now().Add(retryAfter),
	}
}
