package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	RequestsAdmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_ratelimit_requests_admitted_total",
			Help: "Total number of requests admitted by the rate limiter",
		},
		[]string{"venue", "class"},
	)

	RequestsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_ratelimit_requests_dropped_total",
			Help: "Total number of background requests dropped on refusal",
		},
		[]string{"venue", "class"},
	)

	WaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prediction_arb_ratelimit_wait_duration_seconds",
			Help:    "Time spent waiting for a rate limit slot",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"class"},
	)
)
