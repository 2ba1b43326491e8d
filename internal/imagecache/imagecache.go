// Package imagecache keeps remote images as data URLs in a bounded,
// expiring cache that is written through to a durable store.
//
// Entries are evicted in insertion order, oldest first. Reads never
// reorder entries, so a frequently read image that was inserted long ago is
// still the first to go when space is needed.
package imagecache

import (
	"context"
	"time"
)

// Default limits.
const (
	MaxMemorySize   int64 = 200 * 1024 * 1024
	MaxEntries            = 500
	CacheDuration         = 2 * time.Hour
	CleanupInterval       = 5 * time.Minute

	defaultPersistTimeout     = 10 * time.Second
	defaultPreloadConcurrency = 8
)

// ImageCache is the capability handed to consumers of cached images.
type ImageCache interface {
	// LoadImage returns the data URL for key, fetching and caching it on a miss.
	LoadImage(ctx context.Context, key string) (string, error)

	// Get returns a live cached payload and records a hit or a miss.
	Get(key string) (string, bool)

	// Set stores payload under key, evicting older entries as needed.
	Set(ctx context.Context, key, payload string)

	// Clear drops every entry, resets statistics and deletes the persisted snapshot.
	Clear(ctx context.Context)

	// Stats returns a snapshot of the cache counters.
	Stats() Stats

	// PreloadImages loads every key concurrently; failures are logged, not returned.
	PreloadImages(ctx context.Context, keys []string) PreloadReport
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	TotalSize  int64   `json:"totalSize"`
	EntryCount int     `json:"entryCount"`
	HitRate    float64 `json:"hitRate"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
}

// PreloadReport summarizes a PreloadImages call.
type PreloadReport struct {
	Requested int `json:"requested"`
	Loaded    int `json:"loaded"`
	Failed    int `json:"failed"`
}

// Options configures a Cache. Zero values fall back to the defaults above.
type Options struct {
	MaxMemorySize   int64
	MaxEntries      int
	CacheDuration   time.Duration
	CleanupInterval time.Duration

	// PersistTimeout bounds each snapshot write or delete.
	PersistTimeout time.Duration

	// PreloadConcurrency caps parallel fetches in PreloadImages.
	PreloadConcurrency int

	// Now is the clock; tests replace it to move time forward.
	Now func() time.Time
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{
		MaxMemorySize:      MaxMemorySize,
		MaxEntries:         MaxEntries,
		CacheDuration:      CacheDuration,
		CleanupInterval:    CleanupInterval,
		PersistTimeout:     defaultPersistTimeout,
		PreloadConcurrency: defaultPreloadConcurrency,
		Now:                time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxMemorySize <= 0 {
		o.MaxMemorySize = d.MaxMemorySize
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = d.MaxEntries
	}
	if o.CacheDuration <= 0 {
		o.CacheDuration = d.CacheDuration
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = d.CleanupInterval
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = d.PersistTimeout
	}
	if o.PreloadConcurrency <= 0 {
		o.PreloadConcurrency = d.PreloadConcurrency
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// EstimateSize approximates the byte size of a base64 payload:
// four characters carry three bytes.
func EstimateSize(payload string) int64 {
	return int64(len(payload)) * 3 / 4
}

// hitRate is hits as a percentage of all lookups, 0 before the first lookup.
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
