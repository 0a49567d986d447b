package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authz",
		Subsystem: "enforce",
		Name:      "decisions_total",
		Help:      "Total number of Authz decisions broken down by mode and result.",
	}, []string{"mode", "result"})

	decisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "authz",
		Subsystem: "enforce",
		Name:      "latency_seconds",
		Help:      "Latency distribution for Authz decisions.",
		Buckets: []float64{
			0.00005, 0.0001, 0.0005, 0.001,
			0.005, 0.01, 0.05, 0.1,
		},
	}, []string{"mode", "result"})
)

func recordDecision(mode Mode, allowed bool, latency time.Duration) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	labels := prometheus.Labels{
		"mode":   string(mode),
		"result": result,
	}
	decisions.With(labels).Inc()
	decisionLatency.With(labels).Observe(latency.Seconds())
}
