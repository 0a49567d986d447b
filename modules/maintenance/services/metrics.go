package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Total number of attempted request mutations broken down by from/to status and result.",
	}, []string{"from", "to", "result"})

	maintenanceWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of maintenance write conflicts broken down by kind.",
	}, []string{"kind"})

	maintenanceDispatch = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "dispatch",
		Name:      "outcomes_total",
		Help:      "Total number of dispatch calls broken down by outcome.",
	}, []string{"outcome"})

	maintenanceDispatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "maintenance",
		Subsystem: "dispatch",
		Name:      "distance_km",
		Help:      "Distance between request and assigned technician.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
	})

	maintenanceSLAFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "sla",
		Name:      "policy_fallbacks_total",
		Help:      "Total number of SLA lookups that fell back to the priority default, by priority.",
	}, []string{"priority"})
)

func recordTransition(from, to, result string) {
	maintenanceTransitions.WithLabelValues(from, to, result).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	maintenanceWriteConflicts.WithLabelValues(kind).Inc()
}

func recordDispatch(outcome string, distanceKm float64) {
	maintenanceDispatch.WithLabelValues(outcome).Inc()
	if outcome == "assigned" {
		maintenanceDispatchDistance.Observe(distanceKm)
	}
}

func recordSLAFallback(priority string) {
	maintenanceSLAFallbacks.WithLabelValues(priority).Inc()
}
