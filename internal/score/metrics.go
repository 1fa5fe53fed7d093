package score

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	MarketsScoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_score_markets_scored_total",
			Help: "Total number of market quality evaluations",
		},
		[]string{"venue"},
	)

	MarketsBelowThresholdTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_score_markets_below_threshold_total",
			Help: "Total number of markets rejected by the quality threshold",
		},
		[]string{"venue"},
	)

	ScoreDistribution = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_score_distribution",
		Help:    "Distribution of market quality scores",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
)
