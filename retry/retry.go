// Package retry re-invokes failing operations with exponential backoff.
//
// Do and Wrap are transparent: the operation's return value passes through
// unchanged, and errors the Retryable predicate rejects are returned as is
// on first occurrence. Only exhaustion and interruption are reported with
// flowguard's error types.
package retry

import (
	"context"
	"time"

	"github.com/ryhazerus/flowguard"
	"github.com/ryhazerus/flowguard/backoff"
	"go.uber.org/zap"
)

// Admitter gates every attempt. *flowguard.Manager satisfies it.
type Admitter interface {
	Wait(ctx context.Context, key string, tokens int) error
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	// Number counts from one.
	Number    int
	StartedAt time.Time
	Err       error
	// Delay is the wait before the next attempt.
	Delay time.Duration
}

// Policy controls how an operation is retried. The zero value runs the
// operation once.
type Policy struct {
	// MaxRetries bounds the additional invocations after the first, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries int            `mapstructure:"max_retries"`
	Backoff    backoff.Policy `mapstructure:"backoff"`

	// Retryable decides whether a failure is retried. Defaults to
	// flowguard.IsTransient.
	Retryable func(error) bool `mapstructure:"-"`

	// Admission, when set, is waited on under Key before every attempt.
	Admission Admitter `mapstructure:"-"`
	Key       string   `mapstructure:"key"`
	Tokens    int      `mapstructure:"tokens"`

	OnRetry func(Attempt)     `mapstructure:"-"`
	Logger  *zap.Logger       `mapstructure:"-"`
	Sleeper flowguard.Sleeper `mapstructure:"-"`
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// exhausts p.MaxRetries. A server-provided Retry-After carried by the error
// replaces a shorter backoff delay.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	retryable := p.Retryable
	if retryable == nil {
		retryable = flowguard.IsTransient
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleeper
	if sleep == nil {
		sleep = flowguard.Sleep
	}
	tokens := p.Tokens
	if tokens < 1 {
		tokens = 1
	}
	maxRetries := max(p.MaxRetries, 0)

	start := time.Now()
	for attempt := 0; ; attempt++ {
		if p.Admission != nil {
			if err := p.Admission.Wait(ctx, p.Key, tokens); err != nil {
				return zero, err
			}
		}

		startedAt := time.Now()
		v, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("operation succeeded after retries", zap.String("key", p.Key), zap.Int("attempts", attempt+1))
			}
			return v, nil
		}

		if !retryable(err) {
			return zero, err
		}

		if attempt >= maxRetries {
			elapsed := time.Since(start)
			logger.Warn("retries exhausted",
				zap.String("key", p.Key),
				zap.Int("attempts", attempt+1),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			return zero, &flowguard.RetriesExhaustedError{Attempts: attempt + 1, Elapsed: elapsed, Err: err}
		}

		delay := p.Backoff.Delay(attempt)
		if hint, ok := flowguard.RetryAfterHint(err); ok && hint > delay {
			delay = hint
		}

		if p.OnRetry != nil {
			p.OnRetry(Attempt{Number: attempt + 1, StartedAt: startedAt, Err: err, Delay: delay})
		}
		logger.Debug("retrying operation",
			zap.String("key", p.Key),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		// Give up now when the deadline falls before the next attempt.
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(time.Now().Add(delay)) {
			return zero, interrupted(attempt+1, start, err, context.DeadlineExceeded)
		}
		if res := sleep(ctx, delay); res != flowguard.Ready {
			return zero, interrupted(attempt+1, start, err, res.Err())
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Wrap returns op decorated with p. The returned function has the same
// shape as op and may be called any number of times.
func Wrap[T any](p Policy, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, op)
	}
}

func interrupted(attempts int, start time.Time, last, cause error) error {
	return &flowguard.RetryInterruptedError{
		Attempts: attempts,
		Elapsed:  time.Since(start),
		Last:     last,
		Err:      cause,
	}
}
