// Package cachestore persists the image cache as a single serialized blob.
// Every backend stores the whole entry map under one namespaced key, so a
// write always replaces the previous snapshot in full.
package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultKey is the namespaced key the snapshot is stored under.
const DefaultKey = "imageCache"

// Entry is one cached image as it is persisted.
// Timestamps are epoch milliseconds.
type Entry struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
	Size      int64  `json:"size"`
}

// Snapshot maps the source URL of each image to its entry.
type Snapshot map[string]Entry

// Keys returns the snapshot keys ordered by insertion time, oldest first.
// Ties are broken by key so the order is deterministic.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := s[keys[i]].Timestamp, s[keys[j]].Timestamp
		if ti != tj {
			return ti < tj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Store defines the durable key-value storage for cache snapshots.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load retrieves the persisted snapshot.
	// Returns nil, nil if nothing has been stored yet.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snap Snapshot) error

	// Delete removes the persisted snapshot. Deleting a missing snapshot is not an error.
	Delete(ctx context.Context) error

	// Name identifies the backend in logs and errors.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}
