package kalshi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// UpdatesParsedTotal counts parsed book updates by kind.
	UpdatesParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prediction_arb_kalshi_updates_parsed_total",
		Help: "Total book updates parsed from the orderbook channel",
	}, []string{"kind"})

	// UpdatesDroppedTotal counts updates dropped on a full channel.
	UpdatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_kalshi_updates_dropped_total",
		Help: "Total book updates dropped because the consumer lagged",
	})

	// ParseErrorsTotal counts frames that failed to parse.
	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_kalshi_parse_errors_total",
		Help: "Total websocket frames that failed to parse",
	})

	// SnapshotsFetchedTotal counts REST book snapshots fetched.
	SnapshotsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_kalshi_snapshots_fetched_total",
		Help: "Total REST book snapshots fetched for seeding and recovery",
	})

	// SeqGapsTotal counts sequence gaps detected on the delta stream.
	SeqGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_kalshi_seq_gaps_total",
		Help: "Total sequence gaps that forced a book re-seed",
	})

	// OrdersPlacedTotal counts orders by side and terminal status.
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prediction_arb_kalshi_orders_placed_total",
		Help: "Total orders submitted to the trade API by side and status",
	}, []string{"side", "status"})
)
