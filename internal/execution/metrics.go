package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// TradesTotal tracks executed legs by mode and outcome side.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_execution_trades_total",
			Help: "Total number of order legs filled",
		},
		[]string{"mode", "outcome"},
	)

	// ExecutionsTotal tracks attempt outcomes.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_arb_execution_attempts_total",
			Help: "Total number of execution attempts by terminal status",
		},
		[]string{"status"},
	)

	// RealizedPnL accumulates locked-in profit and unwind losses.
	RealizedPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prediction_arb_execution_realized_pnl_dollars",
			Help: "Cumulative realized P&L from execution attempts",
		},
		[]string{"mode"},
	)

	// ExecutionDurationSeconds tracks end-to-end attempt latency.
	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_execution_duration_seconds",
		Help:    "Duration of one execution attempt including reconciliation",
		Buckets: prometheus.DefBuckets,
	})

	// LocksHeld tracks concurrently held execution locks.
	LocksHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_execution_locks_held",
		Help: "Number of execution locks currently held",
	})

	// LockContentionTotal counts try-acquire failures.
	LockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_execution_lock_contention_total",
		Help: "Total number of execution lock acquisitions skipped because the lock was held",
	})

	// CooldownsRecordedTotal counts recorded execution attempts.
	CooldownsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prediction_arb_execution_cooldowns_recorded_total",
		Help: "Total number of market cooldowns recorded after execution attempts",
	})
)
