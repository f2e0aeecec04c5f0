package flowguard

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Compile-time interface check.
var _ Scalable = (*TokenBucket)(nil)

// TokenBucket holds up to capacity tokens refilled at a fixed rate. Refill
// is computed lazily on each acquisition, so bursts up to capacity are
// admitted at once.
type TokenBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	capacity int
	clock    Clock
}

// NewTokenBucket creates a full bucket of the given capacity refilling at
// ratePerSecond tokens per second. A rate that is not positive is raised to
// one token per second.
func NewTokenBucket(ratePerSecond float64, capacity int, opts ...StrategyOption) *TokenBucket {
	o := buildOptions(opts)
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		limiter:  rate.NewLimiter(rate.Limit(positiveRate(ratePerSecond)), capacity),
		capacity: capacity,
		clock:    o.clock,
	}
}

// Kind implements Strategy.
func (b *TokenBucket) Kind() Kind { return KindTokenBucket }

// TryAcquire implements Strategy.
func (b *TokenBucket) TryAcquire(_ context.Context, tokens int) (Decision, error) {
	n := normalizeTokens(tokens)
	if n > b.capacity {
		return Decision{}, fmt.Errorf("%w: %d tokens against a bucket of %d", ErrExceedsCapacity, n, b.capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if b.limiter.AllowN(now, n) {
		return Decision{Allowed: true}, nil
	}
	missing := float64(n) - b.limiter.TokensAt(now)
	return Decision{RetryAfter: durationFor(missing, float64(b.limiter.Limit()))}, nil
}

// Available returns the tokens in the bucket right now.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.TokensAt(b.clock())
}

// Limit returns the refill rate in tokens per second.
func (b *TokenBucket) Limit() float64 {
	return float64(b.limiter.Limit())
}

// SetLimit changes the refill rate. Tokens accrued so far are kept.
func (b *TokenBucket) SetLimit(ratePerSecond float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter.SetLimitAt(b.clock(), rate.Limit(positiveRate(ratePerSecond)))
}
