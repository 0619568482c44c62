package lockout

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FailuresTotal counts recorded authentication failures.
	FailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "lockout_failures_total",
			Help:      "Total recorded authentication failures.",
		},
	)

	// LockoutsTotal counts lock transitions.
	LockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "lockout_locks_total",
			Help:      "Total identities locked out.",
		},
	)

	// OpDuration observes lockout store operation latency by operation.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotaguard",
			Name:      "lockout_operation_duration_seconds",
			Help:      "Lockout store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		FailuresTotal,
		LockoutsTotal,
		OpDuration,
	)
}

func observeOp(op string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
