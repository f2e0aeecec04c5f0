package flowguard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Scalable = (*LeakyBucket)(nil)
	_ Releaser = (*LeakyBucket)(nil)
)

// LeakyBucket models a bounded queue draining at a fixed rate. Admitted work
// is assigned the delay it spends in the queue, which spreads bursts out
// instead of letting them through at once.
type LeakyBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	depth     float64
	lastDrain time.Time
	clock     Clock
}

// NewLeakyBucket creates an empty queue holding up to capacity units and
// draining ratePerSecond units per second. A rate that is not positive is
// raised to one unit per second.
func NewLeakyBucket(ratePerSecond float64, capacity int, opts ...StrategyOption) *LeakyBucket {
	o := buildOptions(opts)
	if capacity < 1 {
		capacity = 1
	}
	return &LeakyBucket{
		rate:     positiveRate(ratePerSecond),
		capacity: float64(capacity),
		clock:    o.clock,
	}
}

// Kind implements Strategy.
func (b *LeakyBucket) Kind() Kind { return KindLeakyBucket }

// TryAcquire implements Strategy.
func (b *LeakyBucket) TryAcquire(_ context.Context, tokens int) (Decision, error) {
	n := float64(normalizeTokens(tokens))
	if n > b.capacity {
		return Decision{}, fmt.Errorf("%w: %d tokens against a queue of %d", ErrExceedsCapacity, int(n), int(b.capacity))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.drainLocked(b.clock())
	if b.depth+n > b.capacity {
		return Decision{RetryAfter: durationFor(b.depth+n-b.capacity, b.rate)}, nil
	}

	delay := durationFor(b.depth, b.rate)
	b.depth += n
	return Decision{Allowed: true, Delay: delay}, nil
}

// Release removes units of abandoned work from the queue.
func (b *LeakyBucket) Release(tokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depth -= float64(normalizeTokens(tokens))
	if b.depth < 0 {
		b.depth = 0
	}
}

// Depth returns the number of units currently queued.
func (b *LeakyBucket) Depth() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked(b.clock())
	return b.depth
}

// Limit returns the drain rate in units per second.
func (b *LeakyBucket) Limit() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// SetLimit changes the drain rate. Units drained at the old rate up to now
// are accounted first.
func (b *LeakyBucket) SetLimit(ratePerSecond float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked(b.clock())
	b.rate = positiveRate(ratePerSecond)
}

// drainLocked removes what leaked out since the last drain. Time moving
// backwards drains nothing.
func (b *LeakyBucket) drainLocked(now time.Time) {
	if b.lastDrain.IsZero() {
		b.lastDrain = now
		return
	}
	if !now.After(b.lastDrain) {
		return
	}
	b.depth -= now.Sub(b.lastDrain).Seconds() * b.rate
	if b.depth < 0 {
		b.depth = 0
	}
	b.lastDrain = now
}
