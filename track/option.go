package track

import (
	"time"

	"github.com/ryhazerus/flowguard"
	"github.com/ryhazerus/flowguard/backoff"
	"go.uber.org/zap"
)

// Defaults applied when the matching option is not given.
const (
	DefaultInterval        = time.Second
	DefaultTransientBudget = 10
)

type config struct {
	interval        time.Duration
	backoff         *backoff.Policy
	timeout         time.Duration
	transientBudget int
	maxPolls        int
	logger          *zap.Logger
	sleep           flowguard.Sleeper
}

// Option configures a tracking session.
type Option func(*config)

func newConfig(opts []Option) config {
	c := config{
		interval:        DefaultInterval,
		transientBudget: DefaultTransientBudget,
		logger:          zap.NewNop(),
		sleep:           flowguard.Sleep,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// delay is the wait after the n-th poll, counting from zero.
func (c config) delay(n int) time.Duration {
	if c.backoff != nil {
		return c.backoff.Delay(n)
	}
	return c.interval
}

// WithInterval polls at a fixed interval.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		c.interval = d
		c.backoff = nil
	}
}

// WithBackoff spaces polls out with p instead of a fixed interval.
func WithBackoff(p backoff.Policy) Option {
	return func(c *config) { c.backoff = &p }
}

// WithTimeout bounds the whole session in wall-clock time. Zero disables
// the bound; a context deadline still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithTransientBudget sets how many transient snapshots are tolerated.
// The session fails on the first one past the budget.
func WithTransientBudget(n int) Option {
	return func(c *config) { c.transientBudget = max(n, 0) }
}

// WithMaxPolls gives up after n polls without a terminal state. Zero means
// no limit.
func WithMaxPolls(n int) Option {
	return func(c *config) { c.maxPolls = max(n, 0) }
}

// WithLogger sets the logger. Each session adds its own id to every entry.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithSleeper replaces the timer used between polls.
func WithSleeper(s flowguard.Sleeper) Option {
	return func(c *config) { c.sleep = s }
}
