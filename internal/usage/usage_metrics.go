package usage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// IncrementsTotal counts increment-and-check calls by result.
	IncrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "usage_increments_total",
			Help:      "Total usage increment-and-check operations by result.",
		},
		[]string{"result"},
	)

	// OpDuration observes usage store operation latency by operation.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotaguard",
			Name:      "usage_operation_duration_seconds",
			Help:      "Usage store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	// BucketsPrunedTotal counts garbage-collected minute buckets.
	BucketsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "usage_buckets_pruned_total",
			Help:      "Total usage buckets removed by the janitor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		IncrementsTotal,
		OpDuration,
		BucketsPrunedTotal,
	)
}

// observeOp returns a closure that records operation duration when called.
func observeOp(op string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
