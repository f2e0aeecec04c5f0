package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("flowguard/store: open sqlite: %w", err)
	}
	// One connection serialises increments and keeps ":memory:" databases
	// from splitting across pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flowguard_counters (
			key            TEXT PRIMARY KEY,
			count          INTEGER NOT NULL DEFAULT 0,
			bucket_key     TEXT NOT NULL DEFAULT '',
			window_seconds INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("flowguard/store: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Increment adds n to the counter for key when the result stays within limit.
// If the bucket has rolled over, the counter restarts from zero.
func (s *SQLiteStore) Increment(ctx context.Context, key string, w Window, n, limit int64) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("flowguard/store: begin: %w", err)
	}
	defer tx.Rollback()

	var count int64
	var bucketKey string

	err = tx.QueryRowContext(ctx,
		`SELECT count, bucket_key FROM flowguard_counters WHERE key = ?`, key,
	).Scan(&count, &bucketKey)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		count = 0
	case err != nil:
		return 0, false, fmt.Errorf("flowguard/store: select: %w", err)
	case bucketKey != w.BucketKey:
		count = 0
	}

	if count+n > limit {
		return count, false, nil
	}
	count += n

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flowguard_counters (key, count, bucket_key, window_seconds) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET count = excluded.count, bucket_key = excluded.bucket_key, window_seconds = excluded.window_seconds`,
		key, count, w.BucketKey, int64(w.Duration.Seconds()),
	)
	if err != nil {
		return 0, false, fmt.Errorf("flowguard/store: upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("flowguard/store: commit: %w", err)
	}
	return count, true, nil
}

// Get returns the current counter value for key in the active window bucket.
func (s *SQLiteStore) Get(ctx context.Context, key string, w Window) (int64, error) {
	var count int64
	var bucketKey string

	err := s.db.QueryRowContext(ctx,
		`SELECT count, bucket_key FROM flowguard_counters WHERE key = ?`, key,
	).Scan(&count, &bucketKey)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if bucketKey != w.BucketKey {
		return 0, nil
	}

	return count, nil
}

// Reset removes the counter for the given key.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flowguard_counters WHERE key = ?`, key)
	return err
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
