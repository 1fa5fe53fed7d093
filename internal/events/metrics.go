package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_events_published_total",
			Help: "Total number of events published to the hub",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_events_dropped_total",
			Help: "Total number of events dropped due to slow subscribers",
		},
		[]string{"type"},
	)
)
