package budget

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CostAddedTotal accumulates all recorded cost.
	CostAddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "budget_cost_added_total",
			Help:      "Total cost recorded across all identities.",
		},
	)

	// OverLimitTotal counts AddCost results that ended over a limit.
	OverLimitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "budget_over_limit_total",
			Help:      "Total cost additions that left an identity over its limit.",
		},
	)

	// OpDuration observes budget store operation latency by operation.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotaguard",
			Name:      "budget_operation_duration_seconds",
			Help:      "Budget store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		CostAddedTotal,
		OverLimitTotal,
		OpDuration,
	)
}

func observeOp(op string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
