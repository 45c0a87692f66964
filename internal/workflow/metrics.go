package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipforge",
			Name:      "tasks_total",
			Help:      "Finished tasks by pipeline and outcome",
		},
		[]string{"kind", "outcome"},
	)

	tasksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipforge",
			Name:      "tasks_rejected_total",
			Help:      "Submissions refused before a task was created",
		},
		[]string{"kind", "reason"},
	)

	stageSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipforge",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
		},
		[]string{"kind", "stage", "outcome"},
	)

	gpuStagesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clipforge",
			Name:      "gpu_stages_active",
			Help:      "GPU-bound stages currently running in this process",
		},
	)
)
