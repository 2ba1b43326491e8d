package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons used as the "reason" label.
const (
	evictSize    = "size"
	evictCount   = "count"
	evictExpired = "expired"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_cache_hits_total",
		Help: "Total number of lookups that found a live entry",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_cache_misses_total",
		Help: "Total number of lookups that found no live entry",
	})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_cache_evictions_total",
		Help: "Total number of entries removed, by reason",
	}, []string{"reason"})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imgcache_cache_bytes",
		Help: "Estimated bytes held by cached entries",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imgcache_cache_entries",
		Help: "Number of cached entries",
	})

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_fetch_errors_total",
		Help: "Total number of failed upstream image fetches",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "imgcache_fetch_duration_seconds",
		Help:    "Latency of upstream image fetches",
		Buckets: prometheus.DefBuckets,
	})

	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_persist_failures_total",
		Help: "Total number of snapshot load/save/delete failures",
	}, []string{"op"})
)
