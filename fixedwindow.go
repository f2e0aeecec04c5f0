package flowguard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ryhazerus/flowguard/store"
)

// Compile-time interface check.
var _ Scalable = (*FixedWindow)(nil)

// FixedWindow admits up to a fixed number of units per wall-clock window.
// The counter resets when a new window begins, so two adjacent half-windows
// may together admit twice the limit.
type FixedWindow struct {
	window time.Duration
	store  store.Store
	key    string
	clock  Clock

	mu    sync.Mutex
	limit int64
}

// NewFixedWindow creates a fixed window strategy admitting limit units per window.
func NewFixedWindow(limit int, window time.Duration, opts ...StrategyOption) *FixedWindow {
	o := buildOptions(opts)
	if limit < 1 {
		limit = 1
	}
	return &FixedWindow{
		window: window,
		store:  o.store,
		key:    o.storeKey,
		clock:  o.clock,
		limit:  int64(limit),
	}
}

// Kind implements Strategy.
func (f *FixedWindow) Kind() Kind { return KindFixedWindow }

// TryAcquire implements Strategy.
func (f *FixedWindow) TryAcquire(ctx context.Context, tokens int) (Decision, error) {
	n := int64(normalizeTokens(tokens))

	f.mu.Lock()
	limit := f.limit
	f.mu.Unlock()

	// Checked against the current limit: a request larger than a lowered
	// limit could never be admitted in any window.
	if n > limit {
		return Decision{}, fmt.Errorf("%w: %d tokens against a window of %d", ErrExceedsCapacity, n, limit)
	}

	now := f.clock()
	w := store.WindowAt(f.window, now)
	_, ok, err := f.store.Increment(ctx, f.key, w, n, limit)
	if err != nil {
		return Decision{}, fmt.Errorf("flowguard: fixed window %s: %w", f.key, err)
	}
	if ok {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: w.End().Sub(now)}, nil
}

// Limit returns the number of units admitted per window.
func (f *FixedWindow) Limit() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return float64(f.limit)
}

// SetLimit changes the number of units admitted per window. The value is
// rounded down and never drops below one.
func (f *FixedWindow) SetLimit(limit float64) {
	n := int64(math.Floor(limit))
	if n < 1 {
		n = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = n
}

// Usage returns the units admitted so far in the current window.
func (f *FixedWindow) Usage(ctx context.Context) (int64, error) {
	return f.store.Get(ctx, f.key, store.WindowAt(f.window, f.clock()))
}
