package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	HaltsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_risk_halts_total",
		Help: "Total number of daily-loss trading halts",
	})

	ExitSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_risk_exit_signals_total",
			Help: "Total number of exit signals emitted by reason",
		},
		[]string{"reason"},
	)

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_risk_daily_pnl_dollars",
		Help: "Realized P&L for the current day in USD",
	})

	TicksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_risk_ticks_dropped_total",
		Help: "Total number of P&L ticks dropped by a busy writer queue",
	})
)
