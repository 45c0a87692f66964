package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clipforge",
			Name:      "jobqueue_pending",
			Help:      "Jobs waiting for a worker",
		},
		[]string{"queue"},
	)

	queueRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clipforge",
			Name:      "jobqueue_running",
			Help:      "Jobs currently executing",
		},
		[]string{"queue"},
	)

	queueWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipforge",
			Name:      "jobqueue_wait_seconds",
			Help:      "Time between submission and dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"queue"},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipforge",
			Name:      "jobqueue_jobs_total",
			Help:      "Finished jobs by outcome",
		},
		[]string{"queue", "outcome"},
	)
)
