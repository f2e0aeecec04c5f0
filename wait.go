package flowguard

import (
	"context"
	"time"
)

// WaitResult is the outcome of a suspension point.
type WaitResult int

const (
	// Ready means the full duration elapsed.
	Ready WaitResult = iota
	// Expired means the context deadline passed first.
	Expired
	// Canceled means the context was cancelled first.
	Canceled
)

func (r WaitResult) String() string {
	switch r {
	case Ready:
		return "Ready"
	case Expired:
		return "Expired"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Err maps the result to the matching context error, or nil for Ready.
func (r WaitResult) Err() error {
	switch r {
	case Expired:
		return context.DeadlineExceeded
	case Canceled:
		return context.Canceled
	default:
		return nil
	}
}

// Sleeper suspends the caller for d or until ctx is done. Every wait in
// flowguard goes through one so tests can replace real time.
type Sleeper func(ctx context.Context, d time.Duration) WaitResult

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) WaitResult {
	if err := ctx.Err(); err != nil {
		return resultFor(err)
	}
	if d <= 0 {
		return Ready
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return resultFor(ctx.Err())
	case <-t.C:
		return Ready
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d).Err()
}

func resultFor(err error) WaitResult {
	if err == context.DeadlineExceeded {
		return Expired
	}
	return Canceled
}
