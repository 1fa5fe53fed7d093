package book

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_book_updates_total",
			Help: "Total number of book updates processed",
		},
		[]string{"venue"},
	)

	SnapshotsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_book_snapshots_applied_total",
			Help: "Total number of book snapshots applied",
		},
		[]string{"venue"},
	)

	DeltasDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_book_deltas_dropped_total",
			Help: "Total number of deltas dropped",
		},
		[]string{"venue", "reason"},
	)

	InvariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_book_invariant_violations_total",
			Help: "Total number of book invariant violations (crossed book, sequence gap)",
		},
		[]string{"venue"},
	)

	BooksTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_book_books_tracked",
		Help: "Number of order books currently tracked",
	})

	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_book_update_processing_duration_seconds",
		Help:    "Time to apply a book update",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 6),
	})
)
