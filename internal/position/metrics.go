package position

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_position_open",
		Help: "Number of currently open positions",
	})

	PositionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_position_opened_total",
		Help: "Total number of positions opened",
	})

	PositionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_position_closed_total",
		Help: "Total number of positions fully closed",
	})

	UnrealizedPnLDollars = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_position_unrealized_pnl_dollars",
		Help: "Aggregate unrealized P&L across open positions in USD",
	})

	PnLTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_position_pnl_ticks_total",
		Help: "Total number of P&L valuation ticks forwarded to risk",
	})

	ExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_position_exits_total",
			Help: "Total number of exit liquidations started by reason",
		},
		[]string{"reason"},
	)

	ExitsIncompleteTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_position_exits_incomplete_total",
		Help: "Total number of exits that left a residual after the retry window",
	})

	ExitDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_position_exit_duration_seconds",
		Help:    "Wall time spent liquidating a position",
		Buckets: prometheus.DefBuckets,
	})
)
