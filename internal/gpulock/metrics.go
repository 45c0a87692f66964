package gpulock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipforge",
			Name:      "gpu_lock_wait_seconds",
			Help:      "Time spent waiting for the GPU lock",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43min
		},
		[]string{"backend"},
	)

	lockHoldSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipforge",
			Name:      "gpu_lock_hold_seconds",
			Help:      "Time the GPU lock was held per acquisition",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"backend"},
	)

	lockHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clipforge",
			Name:      "gpu_lock_held",
			Help:      "1 while this process holds the GPU lock",
		},
		[]string{"backend"},
	)

	lockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipforge",
			Name:      "gpu_lock_timeouts_total",
			Help:      "GPU lock acquisitions abandoned after the configured timeout",
		},
		[]string{"backend"},
	)

	lockLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipforge",
			Name:      "gpu_lock_lost_total",
			Help:      "Leases found held by someone else at renewal time",
		},
		[]string{"backend"},
	)
)
