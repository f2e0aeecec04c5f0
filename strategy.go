package flowguard

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ryhazerus/flowguard/store"
)

// Kind identifies one of the closed set of rate limit strategies.
type Kind int

const (
	// KindFixedWindow admits up to Limit units per wall-clock window.
	KindFixedWindow Kind = iota
	// KindTokenBucket refills Rate tokens per second up to Capacity.
	KindTokenBucket
	// KindLeakyBucket queues up to Capacity units draining at Rate per second.
	KindLeakyBucket
	// KindAdaptive wraps another strategy and scales it on throttling feedback.
	KindAdaptive
)

func (k Kind) String() string {
	switch k {
	case KindFixedWindow:
		return "FixedWindow"
	case KindTokenBucket:
		return "TokenBucket"
	case KindLeakyBucket:
		return "LeakyBucket"
	case KindAdaptive:
		return "Adaptive"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the String form as well as snake_case names such as
// "token_bucket".
func (k *Kind) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(string(text)), "_", ""))
	switch name {
	case "fixedwindow":
		*k = KindFixedWindow
	case "tokenbucket":
		*k = KindTokenBucket
	case "leakybucket":
		*k = KindLeakyBucket
	case "adaptive":
		*k = KindAdaptive
	default:
		return fmt.Errorf("flowguard: unknown strategy kind %q", string(text))
	}
	return nil
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	// Allowed reports whether the tokens were acquired.
	Allowed bool
	// RetryAfter is how long to wait before capacity may be available again.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
	// Delay is how long admitted work should wait before it runs. Only the
	// leaky bucket sets it.
	Delay time.Duration
}

// Strategy decides whether a unit of work may proceed now. Implementations
// are safe for concurrent use: evaluating capacity and consuming it happen
// as one atomic step.
type Strategy interface {
	Kind() Kind
	TryAcquire(ctx context.Context, tokens int) (Decision, error)
}

// Scalable is a Strategy whose limit can be adjusted at runtime. The unit of
// the limit depends on the strategy: requests per window for the fixed
// window, tokens per second for the token and leaky buckets.
type Scalable interface {
	Strategy
	Limit() float64
	SetLimit(limit float64)
}

// Observer receives feedback from the remote side.
type Observer interface {
	OnThrottled(retryAfter time.Duration)
	OnSuccess()
}

// Releaser returns capacity taken by an admitted acquisition whose work
// never ran.
type Releaser interface {
	Release(tokens int)
}

// Clock returns the current time. Strategies read time only through it.
type Clock func() time.Time

type strategyOptions struct {
	clock    Clock
	store    store.Store
	storeKey string
}

// StrategyOption configures a strategy at construction.
type StrategyOption func(*strategyOptions)

// WithClock sets the time source used by a strategy.
func WithClock(c Clock) StrategyOption {
	return func(o *strategyOptions) { o.clock = c }
}

// WithCounterStore sets the backend a fixed-window strategy counts in, and
// the key it counts under.
func WithCounterStore(s store.Store, key string) StrategyOption {
	return func(o *strategyOptions) {
		o.store = s
		o.storeKey = key
	}
}

func buildOptions(opts []StrategyOption) strategyOptions {
	o := strategyOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	if o.storeKey == "" {
		o.storeKey = "default"
	}
	return o
}

// StrategyConfig describes a strategy declaratively so it can be loaded
// from configuration and instantiated once per endpoint key.
type StrategyConfig struct {
	Kind Kind `mapstructure:"kind"`

	// Fixed window.
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`

	// Token and leaky bucket.
	Rate     float64 `mapstructure:"rate"`
	Capacity int     `mapstructure:"capacity"`

	// Adaptive.
	Base     *StrategyConfig `mapstructure:"base"`
	Adaptive AdaptiveConfig  `mapstructure:"adaptive"`
}

// Validate reports whether the config describes a usable strategy.
func (c StrategyConfig) Validate() error {
	switch c.Kind {
	case KindFixedWindow:
		if c.Limit < 1 {
			return fmt.Errorf("flowguard: fixed window limit must be at least 1, got %d", c.Limit)
		}
		if c.Window <= 0 {
			return fmt.Errorf("flowguard: fixed window duration must be positive, got %v", c.Window)
		}
	case KindTokenBucket, KindLeakyBucket:
		if c.Rate <= 0 {
			return fmt.Errorf("flowguard: %s rate must be positive, got %v", c.Kind, c.Rate)
		}
		if c.Capacity < 1 {
			return fmt.Errorf("flowguard: %s capacity must be at least 1, got %d", c.Kind, c.Capacity)
		}
	case KindAdaptive:
		if c.Base == nil {
			return fmt.Errorf("flowguard: adaptive strategy requires a base strategy")
		}
		if c.Base.Kind == KindAdaptive {
			return fmt.Errorf("flowguard: adaptive strategy cannot wrap another adaptive strategy")
		}
		if err := c.Base.Validate(); err != nil {
			return err
		}
		return c.Adaptive.Validate()
	default:
		return fmt.Errorf("flowguard: unknown strategy kind %d", int(c.Kind))
	}
	return nil
}

// Build instantiates a fresh strategy from the config.
func (c StrategyConfig) Build(opts ...StrategyOption) (Strategy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case KindFixedWindow:
		return NewFixedWindow(c.Limit, c.Window, opts...), nil
	case KindTokenBucket:
		return NewTokenBucket(c.Rate, c.Capacity, opts...), nil
	case KindLeakyBucket:
		return NewLeakyBucket(c.Rate, c.Capacity, opts...), nil
	case KindAdaptive:
		base, err := c.Base.Build(opts...)
		if err != nil {
			return nil, err
		}
		scalable, ok := base.(Scalable)
		if !ok {
			return nil, fmt.Errorf("flowguard: %s cannot be wrapped by an adaptive strategy", base.Kind())
		}
		return NewAdaptive(scalable, c.Adaptive, opts...), nil
	}
	return nil, fmt.Errorf("flowguard: unknown strategy kind %d", int(c.Kind))
}

func normalizeTokens(tokens int) int {
	if tokens < 1 {
		return 1
	}
	return tokens
}

// durationFor returns the time needed to accumulate amount units at rate
// units per second, rounded up so waiting it out is always sufficient.
func durationFor(amount, rate float64) time.Duration {
	if amount <= 0 {
		return 0
	}
	if !(rate > 0) {
		return maxDuration
	}
	ns := math.Ceil(amount / rate * float64(time.Second))
	if ns >= float64(maxDuration) {
		return maxDuration
	}
	return time.Duration(ns) + time.Nanosecond
}

const maxDuration = time.Duration(math.MaxInt64)

// positiveRate raises rates that are not positive (including NaN) to one
// unit per second.
func positiveRate(r float64) float64 {
	if !(r > 0) {
		return 1
	}
	return r
}
