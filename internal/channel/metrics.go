package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the confirmation channel's collectors.
type Metrics struct {
	Messages   *prometheus.CounterVec
	Reconnects prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dexlink",
				Subsystem: "channel",
				Name:      "messages_total",
				Help:      "Confirmation messages received by status",
			},
			[]string{"status"},
		),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dexlink",
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Successful reconnections of the confirmation socket",
		}),
	}
}
