package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsTotal counts appended audit events by kind.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "audit_events_total",
			Help:      "Total audit events appended, by kind.",
		},
		[]string{"kind"},
	)

	// GapsTotal counts append failures by kind. A nonzero rate here for
	// informational kinds means the trail has holes and should be alarmed.
	GapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "audit_gaps_total",
			Help:      "Total audit append failures, by kind.",
		},
		[]string{"kind"},
	)

	// OpDuration observes audit store operation latency by operation.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotaguard",
			Name:      "audit_operation_duration_seconds",
			Help:      "Audit store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		GapsTotal,
		OpDuration,
	)
}

func observeOp(op string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
