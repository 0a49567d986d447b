package outbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "maintenance"
	metricsSubsystem = "outbox"
)

type metrics struct {
	enqueueTotal    *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	deadTotal       *prometheus.CounterVec
	purgedTotal     *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	pending     *prometheus.GaugeVec
	locked      *prometheus.GaugeVec
	relayLeader *prometheus.GaugeVec
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func gauge(name, help string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	}, []string{"table"})
}

var getMetrics = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal:  counter("enqueue_total", "Request events written to the outbox.", "table", "topic"),
		dispatchTotal: counter("dispatch_total", "Relay dispatch attempts by result.", "table", "topic", "result"),
		deadTotal:     counter("dead_total", "Request events that exhausted their relay attempts.", "table", "topic"),
		purgedTotal:   counter("purged_total", "Rows removed by the cleaner.", "table", "kind"),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent handing one request event to subscribers.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"table", "topic", "result"}),
		pending:     gauge("pending", "Unpublished request events."),
		locked:      gauge("locked", "Unpublished request events currently claimed by a relay."),
		relayLeader: gauge("relay_leader", "1 when this instance holds the relay lock for the table."),
	}
})
