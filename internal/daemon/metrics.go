package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipforge",
		Name:      "http_requests_total",
		Help:      "API requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})

	submissionsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipforge",
		Name:      "submissions_throttled_total",
		Help:      "Submissions rejected by the per-client rate limit.",
	})
)
