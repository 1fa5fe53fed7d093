package polymarket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// UpdatesParsedTotal counts parsed book updates by kind.
	UpdatesParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prediction_arb_polymarket_updates_parsed_total",
		Help: "Total book updates parsed from the market channel",
	}, []string{"kind"})

	// UpdatesDroppedTotal counts updates dropped on a full channel.
	UpdatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_polymarket_updates_dropped_total",
		Help: "Total book updates dropped because the consumer lagged",
	})

	// ParseErrorsTotal counts frames that failed to parse.
	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_polymarket_parse_errors_total",
		Help: "Total websocket frames that failed to parse",
	})

	// SnapshotsFetchedTotal counts REST book snapshots fetched.
	SnapshotsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_polymarket_snapshots_fetched_total",
		Help: "Total REST book snapshots fetched for recovery",
	})

	// OrdersPlacedTotal counts orders by side and terminal status.
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prediction_arb_polymarket_orders_placed_total",
		Help: "Total orders submitted to the CLOB by side and status",
	}, []string{"side", "status"})
)
