package store

import (
	"context"
	"sync"
)

type bucket struct {
	count     int64
	bucketKey string
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// It is safe for concurrent use. Counters are lost on process restart.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
	}
}

// Increment adds n to the counter for key when the result stays within limit.
func (m *MemoryStore) Increment(_ context.Context, key string, w Window, n, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.bucketKey != w.BucketKey {
		b = &bucket{bucketKey: w.BucketKey}
		m.buckets[key] = b
	}

	if b.count+n > limit {
		return b.count, false, nil
	}
	b.count += n
	return b.count, true, nil
}

// Get returns the current counter value for key in the active window bucket.
func (m *MemoryStore) Get(_ context.Context, key string, w Window) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.bucketKey != w.BucketKey {
		return 0, nil
	}
	return b.count, nil
}

// Reset removes the counter for the given key.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// set overwrites the counter for key. Used by TieredStore to backfill.
func (m *MemoryStore) set(key string, w Window, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets[key] = &bucket{count: count, bucketKey: w.BucketKey}
}
