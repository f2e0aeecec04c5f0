package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ryhazerus/flowguard"
	"github.com/ryhazerus/flowguard/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var errFlaky = errors.New("connection reset")

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) flowguard.WaitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return flowguard.Canceled
	}
	s.delays = append(s.delays, d)
	return flowguard.Ready
}

// failTimes returns an operation that fails k times with a transient error,
// then succeeds with value.
func failTimes(k int, value string) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= k {
			return "", flowguard.MarkTransient(errFlaky)
		}
		return value, nil
	}, &calls
}

func testPolicy(t *testing.T, maxRetries int) (Policy, *recordingSleeper) {
	s := &recordingSleeper{}
	return Policy{
		MaxRetries: maxRetries,
		Backoff:    backoff.New(backoff.WithBase(10*time.Millisecond), backoff.WithMax(time.Second)),
		Logger:     zaptest.NewLogger(t),
		Sleeper:    s.Sleep,
	}, s
}

func TestDoSucceedsAfterKFailures(t *testing.T) {
	for k := 0; k <= 4; k++ {
		op, calls := failTimes(k, "ok")
		p, _ := testPolicy(t, k)

		v, err := Do(context.Background(), p, op)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", v)
		assert.Equal(t, k+1, *calls, "k=%d", k)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	for k := 1; k <= 4; k++ {
		op, calls := failTimes(k, "ok")
		p, _ := testPolicy(t, k-1)

		_, err := Do(context.Background(), p, op)
		require.ErrorIs(t, err, flowguard.ErrRetriesExhausted, "k=%d", k)
		require.ErrorIs(t, err, errFlaky)

		var exhausted *flowguard.RetriesExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, k, exhausted.Attempts)
		assert.Equal(t, k, *calls)
	}
}

func TestDoNonRetryableReturnsImmediately(t *testing.T) {
	permanent := errors.New("user already exists")
	calls := 0
	p, s := testPolicy(t, 5)

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	require.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
}

func TestDoCustomPredicate(t *testing.T) {
	op, calls := func() (func(context.Context) (string, error), *int) {
		n := 0
		return func(context.Context) (string, error) {
			n++
			if n < 3 {
				return "", errFlaky
			}
			return "done", nil
		}, &n
	}()
	p, _ := testPolicy(t, 3)
	p.Retryable = func(err error) bool { return errors.Is(err, errFlaky) }

	v, err := Do(context.Background(), p, op)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, *calls)
}

func TestDoBackoffDelays(t *testing.T) {
	op, _ := failTimes(10, "never")
	p, s := testPolicy(t, 3)

	_, err := Do(context.Background(), p, op)
	require.ErrorIs(t, err, flowguard.ErrRetriesExhausted)

	// No sleep follows the last attempt.
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, s.delays)
}

func TestDoHonoursRetryAfter(t *testing.T) {
	calls := 0
	p, s := testPolicy(t, 1)

	v, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &flowguard.ThrottledError{Key: "svc", RetryAfter: 3 * time.Second}
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, []time.Duration{3 * time.Second}, s.delays)
}

func TestDoOnRetry(t *testing.T) {
	op, _ := failTimes(2, "ok")
	p, _ := testPolicy(t, 5)

	var attempts []Attempt
	p.OnRetry = func(a Attempt) { attempts = append(attempts, a) }

	_, err := Do(context.Background(), p, op)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		assert.ErrorIs(t, a.Err, errFlaky)
		assert.False(t, a.StartedAt.IsZero())
	}
}

func TestDoCanceledDuringBackoff(t *testing.T) {
	op, calls := failTimes(10, "never")
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{
		MaxRetries: 5,
		Sleeper: func(ctx context.Context, d time.Duration) flowguard.WaitResult {
			cancel()
			return flowguard.Canceled
		},
	}

	_, err := Do(ctx, p, op)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, errFlaky)
	assert.NotErrorIs(t, err, flowguard.ErrTimeout)

	var interrupted *flowguard.RetryInterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, 1, interrupted.Attempts)
	assert.Equal(t, 1, *calls)
}

func TestDoDeadlineFailsFast(t *testing.T) {
	op, calls := failTimes(10, "never")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := Policy{
		MaxRetries: 5,
		Backoff:    backoff.New(backoff.WithBase(time.Second)),
	}

	start := time.Now()
	_, err := Do(ctx, p, op)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	require.ErrorIs(t, err, flowguard.ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, *calls)
}

type countingAdmitter struct {
	calls int
	err   error
}

func (a *countingAdmitter) Wait(_ context.Context, key string, tokens int) error {
	a.calls++
	return a.err
}

func TestDoWaitsForAdmissionEachAttempt(t *testing.T) {
	op, _ := failTimes(2, "ok")
	p, _ := testPolicy(t, 3)
	adm := &countingAdmitter{}
	p.Admission = adm
	p.Key = "svc"

	_, err := Do(context.Background(), p, op)
	require.NoError(t, err)
	assert.Equal(t, 3, adm.calls)
}

func TestDoAdmissionFailurePropagates(t *testing.T) {
	op, calls := failTimes(0, "ok")
	p, _ := testPolicy(t, 3)
	denied := errors.New("denied")
	p.Admission = &countingAdmitter{err: denied}

	_, err := Do(context.Background(), p, op)
	require.Same(t, denied, err)
	assert.Equal(t, 0, *calls)
}

func TestDoWithManagerAdmission(t *testing.T) {
	m := flowguard.New()
	require.NoError(t, m.Register(flowguard.Endpoint{
		Pattern:  "svc",
		Strategy: flowguard.StrategyConfig{Kind: flowguard.KindFixedWindow, Limit: 2, Window: time.Hour},
	}))

	op, _ := failTimes(5, "never")
	p, _ := testPolicy(t, 5)
	p.Admission = m
	p.Key = "svc"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Do(ctx, p, op)
	require.ErrorIs(t, err, flowguard.ErrRateLimitExceeded)

	st, ok := m.Stats("svc")
	require.True(t, ok)
	assert.Equal(t, int64(3), st.TotalRequests)
	assert.Equal(t, int64(1), st.ThrottledRequests)
}

func TestWrap(t *testing.T) {
	op, calls := failTimes(1, "wrapped")
	p, _ := testPolicy(t, 2)

	fn := Wrap(p, op)
	v, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wrapped", v)
	assert.Equal(t, 2, *calls)
}

func TestRun(t *testing.T) {
	calls := 0
	p, _ := testPolicy(t, 2)

	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 2 {
			return flowguard.MarkTransient(errFlaky)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoLogsExhaustion(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	op, _ := failTimes(5, "never")
	p, _ := testPolicy(t, 1)
	p.Logger = zap.New(core)
	p.Key = "svc"

	_, err := Do(context.Background(), p, op)
	require.Error(t, err)

	entries := logs.FilterMessage("retries exhausted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["attempts"])
}
