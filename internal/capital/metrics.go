package capital

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	AllocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_capital_allocations_total",
		Help: "Total number of capital allocations computed",
	})

	AllocationDollars = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_capital_allocation_dollars",
		Help:    "Distribution of allocated trade sizes in USD",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	BalanceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_capital_balance_fetches_total",
			Help: "Total number of balance fetches by result",
		},
		[]string{"venue", "result"},
	)

	BalanceCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_capital_balance_cache_hits_total",
			Help: "Total number of balance reads served from cache",
		},
		[]string{"venue"},
	)
)
