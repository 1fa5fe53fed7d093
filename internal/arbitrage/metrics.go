package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// OpportunitiesDetectedTotal tracks arbitrage opportunities detected.
	OpportunitiesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_opportunities_detected_total",
		Help: "Total number of arbitrage opportunities detected",
	})

	// OpportunitiesRejectedTotal tracks rejected candidates by reason, both
	// detection failures and engine gate refusals.
	OpportunitiesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_opportunities_rejected_total",
			Help: "Total number of arbitrage candidates rejected",
		},
		[]string{"reason"},
	)

	// NetProfitBPS tracks net profit after fees in basis points.
	NetProfitBPS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_net_profit_bps",
		Help:    "Net profit after fees in basis points of all-in cost",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	// OpportunitySizeUSD tracks all-in opportunity sizes.
	OpportunitySizeUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_opportunity_size_usd",
		Help:    "Arbitrage opportunity all-in size in USD",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10, 20, 40, ..., 5120
	})

	// DetectionDurationSeconds tracks per-target detection latency.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_detection_duration_seconds",
		Help:    "Duration of one target detection",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// SweepDurationSeconds tracks full detection sweep latency.
	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_sweep_duration_seconds",
		Help:    "Duration of one detection sweep across all targets",
		Buckets: prometheus.DefBuckets,
	})

	// EvaluationsTotal tracks engine evaluations that reached the gates.
	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_evaluations_total",
		Help: "Total number of sized opportunities evaluated against trade gates",
	})

	// CacheSize tracks live cached opportunities.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_opportunity_cache_size",
		Help: "Number of opportunities currently cached",
	})

	// CachePurgedTotal counts janitor evictions.
	CachePurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_opportunity_cache_purged_total",
		Help: "Total number of cached opportunities purged as stale",
	})
)
