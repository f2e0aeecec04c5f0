package flowguard

import (
	"net/http"

	"github.com/ryhazerus/flowguard/store"
	"go.uber.org/zap"
)

// Option configures the Manager.
type Option func(*Manager)

// WithStore sets the backing store for fixed-window counters.
// If not provided, an in-memory store is used by default.
func WithStore(s store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithDefaultStrategy sets the strategy created for keys that match no
// registered endpoint.
func WithDefaultStrategy(cfg StrategyConfig) Option {
	return func(m *Manager) {
		m.defaultStrategy = cfg
	}
}

// WithOnThrottled sets a callback that fires when an acquisition for key is
// refused.
func WithOnThrottled(fn func(key string, d Decision)) Option {
	return func(m *Manager) {
		m.onThrottled = fn
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithManagerClock sets the clock handed to every strategy the manager creates.
func WithManagerClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithSleeper replaces the timer used while waiting for admission.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) {
		m.sleep = s
	}
}

// WithKeyFunc sets how Transport derives an endpoint key from a request.
// The default is host followed by path.
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(m *Manager) {
		m.keyFunc = fn
	}
}
