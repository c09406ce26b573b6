package outcome

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry's Prometheus collectors.
type Metrics struct {
	Registered prometheus.Counter
	Pending    prometheus.Gauge
	Settled    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dexlink",
			Subsystem: "outcome",
			Name:      "registered_total",
			Help:      "Tracking ids registered for confirmation",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dexlink",
			Subsystem: "outcome",
			Name:      "pending",
			Help:      "Tracking ids awaiting a terminal event",
		}),
		Settled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dexlink",
				Subsystem: "outcome",
				Name:      "settled_total",
				Help:      "Terminal transitions by final state and whether the caller was waiting",
			},
			[]string{"state", "awaited"},
		),
	}
}
