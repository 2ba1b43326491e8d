package imagecache

import (
	"context"
	"log/slog"
	"time"
)

// runSweepLoop purges expired entries every CleanupInterval until Close.
func (c *Cache) runSweepLoop() {
	defer close(c.sweepDone)

	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.PurgeExpired(context.Background())
		case <-c.stopSweep:
			return
		}
	}
}

// PurgeExpired removes every entry whose lifetime has ended and persists the
// cache when anything was removed. It returns the number of removed entries.
func (c *Cache) PurgeExpired(ctx context.Context) int {
	now := c.nowMillis()

	c.mu.Lock()
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && entry.ExpiresAt <= now {
			c.removeLocked(key, entry, evictExpired)
			removed++
		}
	}
	if removed > 0 {
		c.publishGaugesLocked()
	}
	c.mu.Unlock()

	if removed == 0 {
		return 0
	}

	slog.Debug("expired images purged", "removed", removed)
	c.persist(ctx)
	return removed
}
