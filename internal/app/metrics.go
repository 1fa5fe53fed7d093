package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	MarketsDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_app_markets_discovered_total",
			Help: "Total number of markets entering the eligible set for the first time",
		},
		[]string{"venue"},
	)

	TokensMonitored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prediction_arb_app_tokens_monitored",
			Help: "Number of tokens with live book subscriptions",
		},
		[]string{"venue"},
	)

	MarketRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_app_market_refreshes_total",
			Help: "Total number of market universe refresh cycles",
		},
		[]string{"status"},
	)
)
