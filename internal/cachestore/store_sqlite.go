package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps the snapshot in a single row of an SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore creates the snapshot table if needed.
func NewSQLiteStore(db *sql.DB, key string) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if key == "" {
		key = DefaultKey
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS image_cache_snapshots (
			cache_key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create image_cache_snapshots table: %w", err)
	}

	return &SQLiteStore{db: db, key: key}, nil
}

// Load reads the snapshot row.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM image_cache_snapshots WHERE cache_key = ?", s.key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return decodeSnapshot([]byte(payload))
}

// Save upserts the snapshot row.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO image_cache_snapshots (cache_key, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, s.key, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot row.
func (s *SQLiteStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM image_cache_snapshots WHERE cache_key = ?", s.key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Name() string { return TypeSQLite }

// Close is a no-op; DB lifecycle is managed by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
