package device

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// NewDevicesTotal counts first sightings.
	NewDevicesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "device_new_total",
			Help:      "Total devices seen for the first time.",
		},
	)

	// RevokedTotal counts revoked devices.
	RevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotaguard",
			Name:      "device_revoked_total",
			Help:      "Total devices revoked.",
		},
	)

	// OpDuration observes device store operation latency by operation.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotaguard",
			Name:      "device_operation_duration_seconds",
			Help:      "Device store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		NewDevicesTotal,
		RevokedTotal,
		OpDuration,
	)
}

func observeOp(op string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
