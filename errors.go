package flowguard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded is matched by errors returned when admission was
	// not granted before the caller's deadline.
	ErrRateLimitExceeded = errors.New("flowguard: rate limit exceeded")

	// ErrExceedsCapacity is returned when a request asks for more tokens than
	// the strategy can ever hold.
	ErrExceedsCapacity = errors.New("flowguard: request exceeds strategy capacity")

	// ErrRetriesExhausted is matched by errors returned once every retry failed.
	ErrRetriesExhausted = errors.New("flowguard: retries exhausted")

	// ErrTaskFailed is matched when a tracked task reports failure.
	ErrTaskFailed = errors.New("flowguard: task failed")

	// ErrTaskTransientExhausted is matched when a tracked task stayed in a
	// transient state longer than its budget.
	ErrTaskTransientExhausted = errors.New("flowguard: task transient budget exhausted")

	// ErrTaskTimeout is matched when tracking ran out of wall-clock time.
	ErrTaskTimeout = errors.New("flowguard: task tracking timed out")

	// ErrUnknownTaskStatus is matched when the remote side reported a status
	// the tracker does not recognise.
	ErrUnknownTaskStatus = errors.New("flowguard: unknown task status")

	// ErrTimeout is matched by every error caused by a deadline, so callers
	// can tell "ran out of time" apart from a business failure.
	ErrTimeout = errors.New("flowguard: deadline exceeded")
)

// RateLimitExceededError reports that admission for Key was not granted.
type RateLimitExceededError struct {
	Key        string
	Tokens     int
	RetryAfter time.Duration
	Waited     time.Duration
	// Err is the context error that ended the wait.
	Err error

	resetAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("flowguard: rate limit exceeded for %s (retry after %v, waited %v)", e.Key, e.RetryAfter, e.Waited)
}

func (e *RateLimitExceededError) Unwrap() []error {
	return nonNil(ErrRateLimitExceeded, e.Err)
}

// Is reports a match against ErrTimeout when the wait ended on a deadline.
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrTimeout && errors.Is(e.Err, context.DeadlineExceeded)
}

// Wait blocks until RetryAfter has elapsed since the error was created or
// the context is done.
func (e *RateLimitExceededError) Wait(ctx context.Context) error {
	return sleep(ctx, time.Until(e.resetAt))
}

// RetriesExhaustedError wraps the last failure of an operation that failed
// on every attempt.
type RetriesExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("flowguard: failed after %d attempts in %v: %v", e.Attempts, e.Elapsed, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return nonNil(ErrRetriesExhausted, e.Err)
}

// RetryInterruptedError reports that the context ended while waiting to
// retry. Last is the failure of the most recent attempt.
type RetryInterruptedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
	Err      error
}

func (e *RetryInterruptedError) Error() string {
	return fmt.Sprintf("flowguard: retry interrupted after %d attempts in %v: %v (last error: %v)", e.Attempts, e.Elapsed, e.Err, e.Last)
}

func (e *RetryInterruptedError) Unwrap() []error {
	return nonNil(e.Err, e.Last)
}

// Is reports a match against ErrTimeout when the wait ended on a deadline.
func (e *RetryInterruptedError) Is(target error) bool {
	return target == ErrTimeout && errors.Is(e.Err, context.DeadlineExceeded)
}

// TaskFailureError reports a task that reached a terminal failure state.
type TaskFailureError struct {
	TaskID   string
	TaskKind string
	Code     string
	Detail   string
	Polls    int
	Elapsed  time.Duration
}

func (e *TaskFailureError) Error() string {
	msg := fmt.Sprintf("flowguard: %s task %s failed with status %q after %d polls", kindOrTask(e.TaskKind), e.TaskID, e.Code, e.Polls)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TaskFailureError) Unwrap() error { return ErrTaskFailed }

// TaskTransientExhaustedError reports a task that kept reporting transient
// states beyond the allowed budget.
type TaskTransientExhaustedError struct {
	TaskID     string
	TaskKind   string
	Code       string
	Transients int
	Budget     int
	Polls      int
	Elapsed    time.Duration
}

func (e *TaskTransientExhaustedError) Error() string {
	return fmt.Sprintf("flowguard: %s task %s reported %d transient states (budget %d), last %q",
		kindOrTask(e.TaskKind), e.TaskID, e.Transients, e.Budget, e.Code)
}

func (e *TaskTransientExhaustedError) Unwrap() error { return ErrTaskTransientExhausted }

// TaskTimeoutError reports that tracking gave up before a terminal state.
type TaskTimeoutError struct {
	TaskID   string
	TaskKind string
	LastCode string
	Timeout  time.Duration
	Polls    int
	Elapsed  time.Duration
	Err      error
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("flowguard: %s task %s still %q after %d polls in %v",
		kindOrTask(e.TaskKind), e.TaskID, e.LastCode, e.Polls, e.Elapsed)
}

func (e *TaskTimeoutError) Unwrap() []error {
	return nonNil(ErrTaskTimeout, ErrTimeout, e.Err)
}

// UnknownTaskStatusError reports a status code the tracker cannot classify.
type UnknownTaskStatusError struct {
	TaskID   string
	TaskKind string
	Code     string
	Polls    int
}

func (e *UnknownTaskStatusError) Error() string {
	return fmt.Sprintf("flowguard: %s task %s reported unknown status %q", kindOrTask(e.TaskKind), e.TaskID, e.Code)
}

func (e *UnknownTaskStatusError) Unwrap() error { return ErrUnknownTaskStatus }

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ThrottledError reports that the remote side refused a call with a
// 429-class response.
type ThrottledError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("flowguard: too many requests to %s, retry after %v", e.Key, e.RetryAfter)
	}
	return fmt.Sprintf("flowguard: too many requests to %s", e.Key)
}

// Temporary reports that throttling is always worth retrying.
func (e *ThrottledError) Temporary() bool { return true }

// MarkTransient wraps err so IsTransient reports true. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// MarkPermanent wraps err so IsTransient reports false. A nil err stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is worth retrying. Permanent marks win
// over transient ones; errors exposing Temporary() are honoured.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) {
		return temporary.Temporary()
	}
	return false
}

// RetryAfterHint extracts a server-provided wait from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) && throttled.RetryAfter > 0 {
		return throttled.RetryAfter, true
	}
	return 0, false
}

func nonNil(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func kindOrTask(kind string) string {
	if kind == "" {
		return "remote"
	}
	return kind
}
