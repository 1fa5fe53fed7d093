package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// MATICBalance tracks the current MATIC balance for gas fees.
	MATICBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_wallet_matic_balance",
		Help: "Current MATIC balance in wallet (native units)",
	})

	// USDCBalance tracks the current USDC balance for trading.
	USDCBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_wallet_usdc_balance",
		Help: "Current USDC balance in wallet (USD)",
	})

	// USDCAllowance tracks the USDC allowance approved to CTF Exchange.
	USDCAllowance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prediction_arb_wallet_usdc_allowance",
		Help: "USDC allowance approved to CTF Exchange (USD)",
	})

	// BalanceFetchesTotal counts on-chain balance reads by outcome.
	BalanceFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prediction_arb_wallet_balance_fetches_total",
		Help: "Total on-chain balance reads by outcome",
	}, []string{"status"})

	// BalanceFetchDuration tracks the time taken to read wallet state.
	BalanceFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_arb_wallet_balance_fetch_duration_seconds",
		Help:    "Time taken to read wallet state (seconds)",
		Buckets: prometheus.DefBuckets,
	})
)
