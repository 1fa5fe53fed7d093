package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_cache_misses_total",
		Help: "Total number of cache misses",
	})

	CacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_cache_sets_total",
		Help: "Total number of cache sets",
	})

	CacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_cache_deletes_total",
		Help: "Total number of cache deletes",
	})

	// CacheHitRate mirrors ristretto's internal hit ratio; refreshed on
	// every Get.
	CacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_cache_hit_rate",
		Help: "Observed cache hit rate (0.0 to 1.0)",
	})
)
