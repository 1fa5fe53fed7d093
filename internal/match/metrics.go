package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CandidatesComparedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_match_candidates_compared_total",
		Help: "Total number of cross-venue title comparisons",
	})

	PairsMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_match_pairs_matched_total",
		Help: "Total number of cross-venue market pairs formed",
	})
)
