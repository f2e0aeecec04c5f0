package store

import "context"

// Compile-time interface check.
var _ Store = (*TieredStore)(nil)

// TieredStore wraps an in-memory store (fast path) with a persistent backend
// (durable path). Admission decisions are made by the persistent backend;
// admitted counts are mirrored into memory so reads stay local.
type TieredStore struct {
	memory     *MemoryStore
	persistent Store
}

// NewTieredStore creates a TieredStore backed by the given persistent store.
// An internal MemoryStore is created automatically.
func NewTieredStore(persistent Store) *TieredStore {
	return &TieredStore{
		memory:     NewMemoryStore(),
		persistent: persistent,
	}
}

// Increment defers to the persistent backend, which is authoritative, and
// mirrors the resulting count into memory.
func (t *TieredStore) Increment(ctx context.Context, key string, w Window, n, limit int64) (int64, bool, error) {
	count, ok, err := t.persistent.Increment(ctx, key, w, n, limit)
	if err != nil {
		return 0, false, err
	}
	t.memory.set(key, w, count)
	return count, ok, nil
}

// Get reads from memory first. On a miss (zero value), it falls back to the
// persistent store and backfills memory.
func (t *TieredStore) Get(ctx context.Context, key string, w Window) (int64, error) {
	count, err := t.memory.Get(ctx, key, w)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return count, nil
	}

	count, err = t.persistent.Get(ctx, key, w)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		t.memory.set(key, w, count)
	}

	return count, nil
}

// Reset removes the counter from both stores.
func (t *TieredStore) Reset(ctx context.Context, key string) error {
	t.memory.Reset(ctx, key)
	return t.persistent.Reset(ctx, key)
}

// Close closes the persistent backend. The in-memory store needs no cleanup.
func (t *TieredStore) Close() error {
	return t.persistent.Close()
}
