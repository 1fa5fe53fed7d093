package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks active WebSocket connections per feed.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prediction_arb_ws_active_connections",
			Help: "Number of active WebSocket connections",
		},
		[]string{"feed"},
	)

	// ReconnectAttemptsTotal tracks reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_ws_reconnect_attempts_total",
		Help: "Total number of WebSocket reconnection attempts",
	})

	// ReconnectFailuresTotal tracks reconnection failures.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_ws_reconnect_failures_total",
		Help: "Total number of WebSocket reconnection failures",
	})

	// FramesReceivedTotal tracks raw frames received per feed.
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_ws_frames_received_total",
			Help: "Total number of WebSocket frames received",
		},
		[]string{"feed"},
	)

	// FramesDroppedTotal tracks frames dropped due to a full channel.
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_ws_frames_dropped_total",
			Help: "Total number of WebSocket frames dropped",
		},
		[]string{"feed", "reason"},
	)

	// SubscriptionCount tracks active market subscriptions per feed.
	SubscriptionCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prediction_arb_ws_subscription_count",
			Help: "Number of active market subscriptions",
		},
		[]string{"feed"},
	)

	// ConnectionDuration tracks WebSocket connection lifetime.
	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prediction_arb_ws_connection_duration_seconds",
			Help:    "Duration of WebSocket connections before disconnect",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
		},
		[]string{"feed"},
	)

	// UnsubscriptionsTotal tracks market unsubscriptions per feed.
	UnsubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_ws_unsubscriptions_total",
			Help: "Total number of market unsubscriptions",
		},
		[]string{"feed"},
	)

	// PoolActiveConnections tracks active connections in pool.
	PoolActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_ws_pool_active_connections",
		Help: "Number of active connections in WebSocket pool",
	})

	// PoolSubscriptionDistribution tracks distribution of subscriptions across pool connections.
	PoolSubscriptionDistribution = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_ws_pool_subscription_distribution",
		Help:    "Distribution of subscriptions across pool connections",
		Buckets: prometheus.LinearBuckets(0, 100, 10),
	})
)
