package flowguard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// AdaptiveConfig controls how an adaptive strategy reacts to feedback.
// None of the factors has a canonical value; the defaults only apply when a
// field is left at zero.
type AdaptiveConfig struct {
	// Decay multiplies the limit on every rejection or throttling signal.
	// Must be in (0, 1). Defaults to 0.5.
	Decay float64 `mapstructure:"decay"`
	// Recovery multiplies the limit after SuccessThreshold consecutive
	// successes. Must be greater than 1. Defaults to 1.1.
	Recovery float64 `mapstructure:"recovery"`
	// SuccessThreshold is the streak length that triggers one recovery step.
	// Defaults to 10.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// MinLimit is the lowest limit decay may reach. Values below one are
	// raised to one.
	MinLimit float64 `mapstructure:"min_limit"`
}

func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	if c.Decay == 0 {
		c.Decay = 0.5
	}
	if c.Recovery == 0 {
		c.Recovery = 1.1
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 10
	}
	if c.MinLimit < 1 {
		c.MinLimit = 1
	}
	return c
}

// Validate reports whether the factors keep the limit within bounds.
func (c AdaptiveConfig) Validate() error {
	c = c.withDefaults()
	if c.Decay <= 0 || c.Decay >= 1 {
		return fmt.Errorf("flowguard: adaptive decay must be in (0, 1), got %v", c.Decay)
	}
	if c.Recovery <= 1 {
		return fmt.Errorf("flowguard: adaptive recovery must be greater than 1, got %v", c.Recovery)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("flowguard: adaptive success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ Scalable = (*Adaptive)(nil)
	_ Observer = (*Adaptive)(nil)
	_ Releaser = (*Adaptive)(nil)
)

// Adaptive wraps a scalable strategy and shrinks its limit when the remote
// side pushes back, then grows it again on sustained success. The limit
// stays within [floor, ceiling] where ceiling is the base strategy's limit
// at construction.
type Adaptive struct {
	base  Scalable
	cfg   AdaptiveConfig
	clock Clock

	mu           sync.Mutex
	ceiling      float64
	floor        float64
	current      float64
	streak       int
	blockedUntil time.Time
	// shortUntil ends the shortage the last decay was charged for.
	shortUntil time.Time
}

// NewAdaptive wraps base. Only the clock option is used.
func NewAdaptive(base Scalable, cfg AdaptiveConfig, opts ...StrategyOption) *Adaptive {
	o := buildOptions(opts)
	cfg = cfg.withDefaults()
	ceiling := base.Limit()
	return &Adaptive{
		base:    base,
		cfg:     cfg,
		clock:   o.clock,
		ceiling: ceiling,
		floor:   math.Min(ceiling, cfg.MinLimit),
		current: ceiling,
	}
}

// Kind implements Strategy.
func (a *Adaptive) Kind() Kind { return KindAdaptive }

// Base returns the wrapped strategy.
func (a *Adaptive) Base() Scalable { return a.base }

// TryAcquire implements Strategy. A rejection from the base strategy counts
// as a throttling signal once per shortage: retries made before the
// returned RetryAfter has passed do not decay the limit again, and the
// RetryAfter is computed at the decayed limit. Decay triggered this way
// never drops the limit below the size of the rejected request. An
// admission counts as a success.
func (a *Adaptive) TryAcquire(ctx context.Context, tokens int) (Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if now.Before(a.blockedUntil) {
		return Decision{RetryAfter: a.blockedUntil.Sub(now)}, nil
	}

	d, err := a.base.TryAcquire(ctx, tokens)
	if err != nil {
		return d, err
	}
	if d.Allowed {
		a.shortUntil = time.Time{}
		a.succeedLocked()
		return d, nil
	}

	// Re-polls of a shortage already decayed for are not new signals.
	if now.Before(a.shortUntil) {
		return d, nil
	}
	if a.decayLocked(math.Min(float64(normalizeTokens(tokens)), a.ceiling)) {
		// The base answered at the old limit; ask again at the new one.
		d, err = a.base.TryAcquire(ctx, tokens)
		if err != nil || d.Allowed {
			return d, err
		}
	}
	a.shortUntil = now.Add(d.RetryAfter)
	return d, nil
}

// OnThrottled implements Observer. A positive retryAfter also holds every
// admission until it elapses.
func (a *Adaptive) OnThrottled(retryAfter time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.decayLocked(0)
	if retryAfter > 0 {
		until := a.clock().Add(retryAfter)
		if until.After(a.blockedUntil) {
			a.blockedUntil = until
		}
	}
}

// OnSuccess implements Observer.
func (a *Adaptive) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.succeedLocked()
}

// Release forwards to the base strategy when it can return capacity.
func (a *Adaptive) Release(tokens int) {
	if r, ok := a.base.(Releaser); ok {
		r.Release(tokens)
	}
}

// Limit returns the limit currently applied to the base strategy.
func (a *Adaptive) Limit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SetLimit resets both the ceiling and the current limit.
func (a *Adaptive) SetLimit(limit float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ceiling = limit
	a.floor = math.Min(limit, a.cfg.MinLimit)
	a.current = limit
	a.streak = 0
	a.base.SetLimit(limit)
}

// Ceiling returns the configured upper bound of the limit.
func (a *Adaptive) Ceiling() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ceiling
}

// decayLocked shrinks the limit, but not below the floor or atLeast. It
// reports whether the limit changed.
func (a *Adaptive) decayLocked(atLeast float64) bool {
	a.streak = 0
	next := math.Max(a.floor, a.current*a.cfg.Decay)
	next = math.Max(next, math.Min(atLeast, a.current))
	if next == a.current {
		return false
	}
	a.current = next
	a.base.SetLimit(next)
	return true
}

func (a *Adaptive) succeedLocked() {
	a.streak++
	if a.streak < a.cfg.SuccessThreshold {
		return
	}
	a.streak = 0
	next := math.Min(a.ceiling, a.current*a.cfg.Recovery)
	if next != a.current {
		a.current = next
		a.base.SetLimit(next)
	}
}
