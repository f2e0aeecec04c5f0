// Package store defines the [Store] interface for fixed-window counter
// backends used by the flowguard fixed-window strategy, and provides three
// implementations:
//
//   - [MemoryStore]: fast, in-memory counters that are lost on restart.
//   - [SQLiteStore]: persistent counters backed by a SQLite database.
//   - [TieredStore]: memory fast path in front of a persistent backend.
//
// A Redis-backed store lives in the store/redis subpackage. Custom backends
// can be created by implementing the [Store] interface.
package store
