package imagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"imgcache/internal/cachestore"
	"imgcache/internal/core"
	"imgcache/internal/fetcher"
)

// Cache is the ImageCache implementation.
// It is safe for concurrent use.
type Cache struct {
	opts    Options
	store   cachestore.Store
	fetcher fetcher.Fetcher

	mu        sync.Mutex
	entries   *simplelru.LRU[string, cachestore.Entry]
	totalSize int64
	hits      uint64
	misses    uint64

	// persistMu orders snapshot writes so an older snapshot never overwrites a newer one.
	persistMu sync.Mutex

	inflight singleflight.Group

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

var _ ImageCache = (*Cache)(nil)

// New builds a cache, rehydrates it from store and starts the expiration sweep.
// A store that cannot be read is logged and the cache starts empty.
// The caller must call Close to stop the sweep; the store is not closed.
func New(ctx context.Context, store cachestore.Store, f fetcher.Fetcher, opts Options) (*Cache, error) {
	if f == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		store = cachestore.NewMemoryStore()
	}
	opts = opts.withDefaults()

	// Capacity is one above the entry limit so simplelru never evicts on its
	// own; enforceLimits does all evictions and keeps the stats in step.
	entries, err := simplelru.NewLRU[string, cachestore.Entry](opts.MaxEntries+1, nil)
	if err != nil {
		return nil, fmt.Errorf("create entry map: %w", err)
	}

	c := &Cache{
		opts:      opts,
		store:     store,
		fetcher:   f,
		entries:   entries,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	c.rehydrate(ctx)

	go c.runSweepLoop()

	return c, nil
}

// rehydrate loads live entries from the store in insertion order.
// Expired entries are dropped and not written back until the next mutation.
func (c *Cache) rehydrate(ctx context.Context) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.persistFailed(ctx, "load", err)
		return
	}
	if len(snap) == 0 {
		return
	}

	now := c.nowMillis()
	dropped := 0

	c.mu.Lock()
	for _, key := range snap.Keys() {
		entry := snap[key]
		if entry.ExpiresAt <= now {
			dropped++
			continue
		}
		entry.Size = EstimateSize(entry.Data)
		if entry.Size > c.opts.MaxMemorySize {
			dropped++
			continue
		}
		c.enforceLimitsLocked(entry.Size)
		c.entries.Add(key, entry)
		c.totalSize += entry.Size
	}
	c.publishGaugesLocked()
	restored := c.entries.Len()
	c.mu.Unlock()

	slog.Info("image cache restored",
		"store", c.store.Name(),
		"entries", restored,
		"dropped_expired", dropped,
	)
}

// Get returns the payload for key when a live entry exists.
// An expired entry is removed on the spot and counts as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(key)
	if ok {
		if entry.ExpiresAt > c.nowMillis() {
			c.hits++
			cacheHits.Inc()
			return entry.Data, true
		}
		c.removeLocked(key, entry, evictExpired)
		c.publishGaugesLocked()
	}

	c.misses++
	cacheMisses.Inc()
	return "", false
}

// peek returns a live payload without touching the hit counters.
func (c *Cache) peek(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(key)
	if !ok || entry.ExpiresAt <= c.nowMillis() {
		return "", false
	}
	return entry.Data, true
}

// Set stores payload under key and persists the whole cache.
// Overwriting a key removes the previous entry first, so the new value counts
// once and takes the newest insertion slot. A payload larger than the memory
// budget is not cached at all.
func (c *Cache) Set(ctx context.Context, key, payload string) {
	size := EstimateSize(payload)
	if size > c.opts.MaxMemorySize {
		slog.Warn("image too large to cache",
			"url", key,
			"size", size,
			"max_memory_size", c.opts.MaxMemorySize,
		)
		return
	}

	now := c.opts.Now()

	c.mu.Lock()
	if old, ok := c.entries.Peek(key); ok {
		c.entries.Remove(key)
		c.totalSize -= old.Size
	}
	c.enforceLimitsLocked(size)
	c.entries.Add(key, cachestore.Entry{
		Data:      payload,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(c.opts.CacheDuration).UnixMilli(),
		Size:      size,
	})
	c.totalSize += size
	c.publishGaugesLocked()
	c.mu.Unlock()

	c.persist(ctx)
}

// enforceLimitsLocked evicts oldest-inserted entries until incoming bytes fit
// the memory budget and one more entry fits the entry limit.
// Caller must hold c.mu.
func (c *Cache) enforceLimitsLocked(incoming int64) {
	for c.totalSize+incoming > c.opts.MaxMemorySize && c.entries.Len() > 0 {
		c.evictOldestLocked(evictSize)
	}
	for c.entries.Len() >= c.opts.MaxEntries {
		c.evictOldestLocked(evictCount)
	}
}

func (c *Cache) evictOldestLocked(reason string) {
	key, entry, ok := c.entries.RemoveOldest()
	if !ok {
		return
	}
	c.totalSize -= entry.Size
	cacheEvictions.WithLabelValues(reason).Inc()
	slog.Debug("image cache eviction", "url", key, "size", entry.Size, "reason", reason)
}

func (c *Cache) removeLocked(key string, entry cachestore.Entry, reason string) {
	if c.entries.Remove(key) {
		c.totalSize -= entry.Size
		cacheEvictions.WithLabelValues(reason).Inc()
	}
}

// LoadImage returns the cached data URL for key or fetches, encodes and caches it.
// Concurrent loads of the same key share a single upstream request.
// Fetch failures are returned as *core.FetchError or *core.DecodeError and
// leave no entry behind.
func (c *Cache) LoadImage(ctx context.Context, key string) (string, error) {
	payload, _, err := c.Resolve(ctx, key)
	return payload, err
}

// Resolve is LoadImage that also reports whether the payload was served from
// the cache without a fetch.
func (c *Cache) Resolve(ctx context.Context, key string) (payload string, cached bool, err error) {
	if payload, ok := c.Get(key); ok {
		return payload, true, nil
	}

	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		// A load that finished while this one was queued may already have filled the entry.
		if payload, ok := c.peek(key); ok {
			return payload, nil
		}

		// The shared fetch outlives any single caller's cancellation.
		fetchCtx := context.WithoutCancel(ctx)

		start := time.Now()
		img, err := c.fetcher.Fetch(fetchCtx, key)
		fetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if core.IsFetchFailure(err) {
				fetchErrors.Inc()
				slog.LogAttrs(fetchCtx, slog.LevelDebug, "image fetch failed",
					slog.String("url", key),
					slog.Any("error", err),
					core.RequestIDAttr(fetchCtx),
				)
			}
			return nil, err
		}

		payload := img.DataURL()
		c.Set(fetchCtx, key, payload)
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// PreloadImages warms the cache with keys. Each key is loaded independently;
// one failure never stops the others. It returns after every load settles.
func (c *Cache) PreloadImages(ctx context.Context, keys []string) PreloadReport {
	report := PreloadReport{Requested: len(keys)}
	if len(keys) == 0 {
		return report
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.opts.PreloadConcurrency)

	for _, key := range keys {
		g.Go(func() error {
			_, err := c.LoadImage(ctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				slog.Warn("image preload failed", "url", key, "error", err)
				return nil
			}
			report.Loaded++
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("image preload finished",
		"requested", report.Requested,
		"loaded", report.Loaded,
		"failed", report.Failed,
	)
	return report
}

// Clear drops all entries, resets the counters and deletes the persisted snapshot.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries.Purge()
	c.totalSize = 0
	c.hits = 0
	c.misses = 0
	c.publishGaugesLocked()
	c.mu.Unlock()

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	dctx, cancel := c.persistContext(ctx)
	defer cancel()
	if err := c.store.Delete(dctx); err != nil {
		c.persistFailed(ctx, "delete", err)
		return
	}
	slog.Info("image cache cleared", "store", c.store.Name())
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		TotalSize:  c.totalSize,
		EntryCount: c.entries.Len(),
		HitRate:    hitRate(c.hits, c.misses),
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

// TTL is how long a new entry stays live.
func (c *Cache) TTL() time.Duration {
	return c.opts.CacheDuration
}

// persist writes the full entry map to the store. Failures are logged and
// counted; the in-memory cache stays authoritative.
func (c *Cache) persist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	snap := c.snapshot()

	pctx, cancel := c.persistContext(ctx)
	defer cancel()
	if err := c.store.Save(pctx, snap); err != nil {
		c.persistFailed(ctx, "save", err)
	}
}

func (c *Cache) snapshot() cachestore.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := make(cachestore.Snapshot, c.entries.Len())
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok {
			snap[key] = entry
		}
	}
	return snap
}

func (c *Cache) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), c.opts.PersistTimeout)
}

func (c *Cache) persistFailed(ctx context.Context, op string, err error) {
	persistFailures.WithLabelValues(op).Inc()
	perr := &core.PersistenceError{Op: op, Backend: c.store.Name(), Err: err}
	level := slog.LevelWarn
	if errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelError
	}
	slog.LogAttrs(context.Background(), level, "image cache persistence failed",
		slog.Any("error", perr),
		core.RequestIDAttr(ctx),
	)
}

func (c *Cache) publishGaugesLocked() {
	cacheBytes.Set(float64(c.totalSize))
	cacheEntries.Set(float64(c.entries.Len()))
}

func (c *Cache) nowMillis() int64 {
	return c.opts.Now().UnixMilli()
}

// Close stops the background sweep. It is safe to call more than once.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopSweep)
		<-c.sweepDone
	})
	return nil
}
