package store

import (
	"context"
	"time"
)

// Window identifies one fixed window bucket. Callers pass the window's
// duration and bucket key so backends never compute wall-clock time
// themselves.
type Window struct {
	Duration    time.Duration
	BucketKey   string
	BucketStart time.Time
}

// WindowAt returns the bucket of length d that contains t. Buckets are
// aligned to the Unix epoch, so every process sharing a backend agrees on
// bucket boundaries.
func WindowAt(d time.Duration, t time.Time) Window {
	if d <= 0 {
		d = time.Second
	}
	idx := t.UnixNano() / int64(d)
	start := time.Unix(0, idx*int64(d)).UTC()
	return Window{
		Duration:    d,
		BucketKey:   start.Format(time.RFC3339Nano),
		BucketStart: start,
	}
}

// End returns the instant the bucket closes.
func (w Window) End() time.Time {
	return w.BucketStart.Add(w.Duration)
}

// Store defines the interface for fixed-window counter backends.
type Store interface {
	// Increment atomically adds n to the counter for key in the window
	// bucket, but only if the result stays within limit. It returns the
	// counter value after the call and whether n was admitted. A rejected
	// increment leaves the counter untouched.
	Increment(ctx context.Context, key string, w Window, n, limit int64) (current int64, ok bool, err error)

	// Get returns the current counter value for the key in the active window bucket.
	Get(ctx context.Context, key string, w Window) (current int64, err error)

	// Reset removes the counter for the given key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
