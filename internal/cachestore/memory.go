package cachestore

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in process memory.
// It is used when persistence is disabled and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load decodes the last saved snapshot.
func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, nil
	}
	return decodeSnapshot(s.data)
}

// Save encodes and keeps the snapshot. The stored bytes are independent of snap.
func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Delete drops the snapshot.
func (s *MemoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Name() string { return TypeMemory }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
