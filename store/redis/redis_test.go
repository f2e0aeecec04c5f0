package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/ryhazerus/flowguard/store"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func testWindow(minute int) store.Window {
	start := time.Date(2024, 1, 15, 14, minute, 0, 0, time.UTC)
	return store.Window{
		Duration:    time.Minute,
		BucketKey:   start.Format("2006-01-02T15:04"),
		BucketStart: start,
	}
}

func TestRedisStoreIncrement(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	w := testWindow(30)

	for i := int64(1); i <= 5; i++ {
		got, ok, err := s.Increment(ctx, "test", w, 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || got != i {
			t.Errorf("increment %d: got (%d, %v), want (%d, true)", i, got, ok, i)
		}
	}
}

func TestRedisStoreRejectsOverLimit(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	w := testWindow(30)

	s.Increment(ctx, "key", w, 2, 2)
	got, ok, err := s.Increment(ctx, "key", w, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("increment beyond limit should be rejected")
	}
	if got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestRedisStoreWindowRollover(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.Increment(ctx, "key", testWindow(30), 1, 10)
	s.Increment(ctx, "key", testWindow(30), 1, 10)

	got, _, _ := s.Increment(ctx, "key", testWindow(31), 1, 10)
	if got != 1 {
		t.Errorf("after rollover: got %d, want 1", got)
	}
}

func TestRedisStoreSetsTTL(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	s.Increment(ctx, "key", testWindow(30), 1, 10)

	if ttl := mr.TTL("flowguard:key"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v, want within (0, 1m]", ttl)
	}
}

func TestRedisStoreGet(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	w := testWindow(30)

	got, _ := s.Get(ctx, "key", w)
	if got != 0 {
		t.Errorf("initial get: got %d, want 0", got)
	}

	s.Increment(ctx, "key", w, 1, 10)
	s.Increment(ctx, "key", w, 1, 10)

	got, _ = s.Get(ctx, "key", w)
	if got != 2 {
		t.Errorf("after 2 increments: got %d, want 2", got)
	}
}

func TestRedisStoreReset(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	w := testWindow(30)

	s.Increment(ctx, "key", w, 1, 10)
	s.Reset(ctx, "key")

	got, _ := s.Get(ctx, "key", w)
	if got != 0 {
		t.Errorf("after reset: got %d, want 0", got)
	}
}
