package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Submissions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dexlink",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "HTTP requests by method, endpoint and status code",
			},
			[]string{"method", "endpoint", "code"},
		),
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dexlink",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dexlink",
				Subsystem: "gateway",
				Name:      "submissions_total",
				Help:      "Signed submissions by operation and error kind",
			},
			[]string{"operation", "kind"},
		),
	}
}
