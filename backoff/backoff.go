// Package backoff computes exponential wait durations between attempts.
//
// A Policy is a plain value: it can be copied into retry and tracking
// configuration freely. Policies created with New share one random source
// across copies; zero-value policies draw jitter from the global source.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Jitter selects how a computed delay is randomized.
type Jitter int

const (
	// JitterNone returns the capped exponential delay as is.
	JitterNone Jitter = iota
	// JitterFull picks uniformly in [0, d].
	JitterFull
	// JitterEqual picks uniformly in [d/2, 3d/2], capped again at Max.
	JitterEqual
)

func (j Jitter) String() string {
	switch j {
	case JitterNone:
		return "none"
	case JitterFull:
		return "full"
	case JitterEqual:
		return "equal"
	default:
		return fmt.Sprintf("Jitter(%d)", int(j))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *Jitter) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "none":
		*j = JitterNone
	case "full":
		*j = JitterFull
	case "equal":
		*j = JitterEqual
	default:
		return fmt.Errorf("backoff: unknown jitter mode %q", string(text))
	}
	return nil
}

// Defaults used by New for fields left at zero.
const (
	DefaultBase       = 100 * time.Millisecond
	DefaultMultiplier = 2.0
	DefaultMax        = 30 * time.Second
)

// Policy computes Delay(n) = min(Max, Base * Multiplier^n), then applies
// Jitter. Delay(0) is Base before jitter. Zero fields take the package
// defaults, so the zero Policy is usable.
type Policy struct {
	Base       time.Duration `mapstructure:"base"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
	Jitter     Jitter        `mapstructure:"jitter"`

	rng *lockedRand
}

// Option configures a Policy created by New.
type Option func(*Policy)

// WithBase sets the delay of the first attempt.
func WithBase(d time.Duration) Option {
	return func(p *Policy) { p.Base = d }
}

// WithMultiplier sets the growth factor between attempts.
func WithMultiplier(m float64) Option {
	return func(p *Policy) { p.Multiplier = m }
}

// WithMax caps every delay.
func WithMax(d time.Duration) Option {
	return func(p *Policy) { p.Max = d }
}

// WithJitter sets the jitter mode.
func WithJitter(j Jitter) Option {
	return func(p *Policy) { p.Jitter = j }
}

// WithSeed makes jitter deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Policy) { p.rng = newLockedRand(seed) }
}

// New returns a policy with defaults for every unset field.
func New(opts ...Option) Policy {
	p := Policy{}
	for _, o := range opts {
		o(&p)
	}
	return p.WithDefaults()
}

// WithDefaults fills zero fields with the package defaults.
func (p Policy) WithDefaults() Policy {
	if p.Base == 0 {
		p.Base = DefaultBase
	}
	if p.Multiplier == 0 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Max == 0 {
		p.Max = DefaultMax
	}
	return p
}

// Seeded returns a copy of p drawing jitter from a source seeded with seed.
func (p Policy) Seeded(seed uint64) Policy {
	p.rng = newLockedRand(seed)
	return p
}

// Validate reports whether the policy can produce sensible delays.
func (p Policy) Validate() error {
	if p.Base < 0 {
		return fmt.Errorf("backoff: base must not be negative, got %v", p.Base)
	}
	if p.Max < p.Base {
		return fmt.Errorf("backoff: max %v is below base %v", p.Max, p.Base)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.Jitter < JitterNone || p.Jitter > JitterEqual {
		return fmt.Errorf("backoff: unknown jitter mode %d", int(p.Jitter))
	}
	return nil
}

// Delay returns the wait before retry number attempt, counting from zero.
// The result is never negative and never exceeds Max.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.WithDefaults()
	d := p.exponential(attempt)

	switch p.Jitter {
	case JitterFull:
		d = time.Duration(p.float64() * float64(d))
	case JitterEqual:
		d = time.Duration(float64(d)/2 + p.float64()*float64(d))
	}
	if d > p.Max {
		d = p.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// exponential is the capped delay before jitter. Growth that overflows
// saturates at Max.
func (p Policy) exponential(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.Base <= 0 {
		return 0
	}
	f := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(f)
}

func (p Policy) float64() float64 {
	if p.rng == nil {
		return rand.Float64()
	}
	return p.rng.Float64()
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed uint64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}
