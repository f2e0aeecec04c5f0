package flowguard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type temporaryErr struct{ temp bool }

func (e temporaryErr) Error() string   { return "temporary" }
func (e temporaryErr) Temporary() bool { return e.temp }

func TestIsTransient(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", base, false},
		{"marked transient", MarkTransient(base), true},
		{"wrapped transient", fmt.Errorf("call: %w", MarkTransient(base)), true},
		{"marked permanent", MarkPermanent(base), false},
		{"permanent wins", MarkPermanent(MarkTransient(base)), false},
		{"throttled", &ThrottledError{Key: "svc"}, true},
		{"temporary true", temporaryErr{temp: true}, true},
		{"temporary false", temporaryErr{temp: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMarksKeepNil(t *testing.T) {
	if MarkTransient(nil) != nil || MarkPermanent(nil) != nil {
		t.Error("marking nil should return nil")
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("list volumes: %w", &ThrottledError{Key: "svc", RetryAfter: 3 * time.Second})
	d, ok := RetryAfterHint(err)
	if !ok || d != 3*time.Second {
		t.Errorf("RetryAfterHint = %v, %v; want 3s, true", d, ok)
	}
	if _, ok := RetryAfterHint(errors.New("other")); ok {
		t.Error("plain error should carry no hint")
	}
}

func TestTimeoutErrorsMatchErrTimeout(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		timeout bool
	}{
		{"task timeout", &TaskTimeoutError{TaskID: "t1"}, true},
		{"rate limit deadline", &RateLimitExceededError{Key: "k", Err: context.DeadlineExceeded}, true},
		{"rate limit canceled", &RateLimitExceededError{Key: "k", Err: context.Canceled}, false},
		{"retry deadline", &RetryInterruptedError{Err: context.DeadlineExceeded}, true},
		{"retry canceled", &RetryInterruptedError{Err: context.Canceled}, false},
		{"task failure", &TaskFailureError{TaskID: "t1", Code: "FAILED"}, false},
		{"retries exhausted", &RetriesExhaustedError{Attempts: 3, Err: errors.New("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, ErrTimeout); got != tt.timeout {
				t.Errorf("errors.Is(ErrTimeout) = %v, want %v", got, tt.timeout)
			}
		})
	}
}

func TestErrorSentinels(t *testing.T) {
	cause := errors.New("connection reset")
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"rate limit", &RateLimitExceededError{Key: "k"}, ErrRateLimitExceeded},
		{"exhausted", &RetriesExhaustedError{Attempts: 2, Err: cause}, ErrRetriesExhausted},
		{"exhausted cause", &RetriesExhaustedError{Attempts: 2, Err: cause}, cause},
		{"interrupted last", &RetryInterruptedError{Err: context.Canceled, Last: cause}, cause},
		{"task failed", &TaskFailureError{TaskID: "t"}, ErrTaskFailed},
		{"transient exhausted", &TaskTransientExhaustedError{TaskID: "t"}, ErrTaskTransientExhausted},
		{"task timeout", &TaskTimeoutError{TaskID: "t"}, ErrTaskTimeout},
		{"unknown status", &UnknownTaskStatusError{TaskID: "t", Code: "??"}, ErrUnknownTaskStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.target)
			}
		})
	}
}

func TestTaskFailureErrorMessage(t *testing.T) {
	err := &TaskFailureError{TaskID: "42", TaskKind: "snapshot", Code: "FAILED", Detail: "disk full", Polls: 3}
	want := `flowguard: snapshot task 42 failed with status "FAILED" after 3 polls: disk full`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestRateLimitExceededErrorWait(t *testing.T) {
	err := &RateLimitExceededError{Key: "k", RetryAfter: 10 * time.Millisecond, resetAt: time.Now().Add(10 * time.Millisecond)}
	if werr := err.Wait(context.Background()); werr != nil {
		t.Fatal(werr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err.resetAt = time.Now().Add(time.Hour)
	if werr := err.Wait(ctx); !errors.Is(werr, context.Canceled) {
		t.Errorf("Wait on canceled context = %v, want context.Canceled", werr)
	}
}

func TestSleep(t *testing.T) {
	if got := Sleep(context.Background(), time.Millisecond); got != Ready {
		t.Errorf("Sleep = %v, want Ready", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if got := Sleep(ctx, time.Hour); got != Expired {
		t.Errorf("Sleep past deadline = %v, want Expired", got)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if got := Sleep(ctx, time.Hour); got != Canceled {
		t.Errorf("Sleep on canceled context = %v, want Canceled", got)
	}
}
