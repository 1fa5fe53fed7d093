package wallet

import (
	"testing"
)

// TestMetrics_Registration tests all metrics are initialized
func TestMetrics_Registration(t *testing.T) {
	if MATICBalance == nil {
		t.Error("MATICBalance not registered")
	}

	if USDCBalance == nil {
		t.Error("USDCBalance not registered")
	}

	if USDCAllowance == nil {
		t.Error("USDCAllowance not registered")
	}

	if BalanceFetchesTotal == nil {
		t.Error("BalanceFetchesTotal not registered")
	}

	if BalanceFetchDuration == nil {
		t.Error("BalanceFetchDuration not registered")
	}
}

// TestMetrics_CounterIncrement tests counters can be incremented
func TestMetrics_CounterIncrement(t *testing.T) {
	BalanceFetchesTotal.WithLabelValues("ok").Inc()
	BalanceFetchesTotal.WithLabelValues("error").Inc()
}

// TestMetrics_GaugeSet tests gauges can be set
func TestMetrics_GaugeSet(t *testing.T) {
	MATICBalance.Set(10.5)
	USDCBalance.Set(100.0)
	USDCAllowance.Set(1000.0)
}

// TestMetrics_HistogramObserve tests histogram can observe values
func TestMetrics_HistogramObserve(t *testing.T) {
	BalanceFetchDuration.Observe(0.5)
}
