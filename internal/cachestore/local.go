package cachestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore implements Store using a JSON file on local disk.
// This is suitable for single-instance deployments.
type LocalStore struct {
	mu       sync.RWMutex
	filePath string
}

// NewLocalStore creates a new file-based store.
// An empty filePath disables persistence: Load returns nothing and Save is a no-op.
func NewLocalStore(filePath string) *LocalStore {
	return &LocalStore{
		filePath: filePath,
	}
}

// Load reads the snapshot from the local file.
func (s *LocalStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.filePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No snapshot yet, not an error
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	return decodeSnapshot(data)
}

// Save writes the snapshot atomically using a temp file and rename.
func (s *LocalStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// Delete removes the cache file.
func (s *LocalStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}
	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

func (s *LocalStore) Name() string { return TypeLocal }

// Close is a no-op for the local store.
func (s *LocalStore) Close() error {
	return nil
}
