package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DecisionsTotal counts decisions by kind and reason.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "decisions_total",
			Help:      "Total evaluator decisions, by kind and reason.",
		},
		[]string{"kind", "reason"},
	)

	// StoreFailuresTotal counts store failures surfaced as indeterminate
	// results, by component and error class.
	StoreFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "store_failures_total",
			Help:      "Total store failures during evaluation, by component and class.",
		},
		[]string{"component", "class"},
	)

	// FailOpenTotal counts requests allowed past an unavailable usage store.
	FailOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "fail_open_total",
			Help:      "Total requests allowed despite an unavailable usage store.",
		},
	)

	// OpDuration observes evaluator entry point latency by operation.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotaguard",
			Name:      "evaluator_operation_duration_seconds",
			Help:      "Evaluator operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		StoreFailuresTotal,
		FailOpenTotal,
		OpDuration,
	)
}

func observeOp(op string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
