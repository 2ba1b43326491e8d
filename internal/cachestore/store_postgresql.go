package cachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore keeps the snapshot in a single TEXT row.
// A TEXT value holds up to 1 GB, where JSONB stops near 255 MB, which a
// full default cache would approach. config.Validate rejects cache budgets
// whose snapshot could outgrow the column.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgreSQLStore creates the snapshot table if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, key string) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if key == "" {
		key = DefaultKey
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS image_cache_snapshots (
			cache_key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create image_cache_snapshots table: %w", err)
	}

	return &PostgreSQLStore{pool: pool, key: key}, nil
}

// Load reads the snapshot row.
func (s *PostgreSQLStore) Load(ctx context.Context) (Snapshot, error) {
	var payload string
	err := s.pool.QueryRow(ctx,
		"SELECT data FROM image_cache_snapshots WHERE cache_key = $1", s.key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return decodeSnapshot([]byte(payload))
}

// Save upserts the snapshot row.
func (s *PostgreSQLStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO image_cache_snapshots (cache_key, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, s.key, string(payload))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot row.
func (s *PostgreSQLStore) Delete(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM image_cache_snapshots WHERE cache_key = $1", s.key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Name() string { return TypePostgreSQL }

// Close is a no-op; pool lifecycle is managed by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
