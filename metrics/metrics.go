package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datatrails/go-servicebus-repro/logger"
)

const (
	namespace = "unsubscribe_repro"
)

// MessagesSentMetric counts messages sent per topic or queue.
func MessagesSentMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent by entity.",
		},
		[]string{"entity"},
	)
}

// MessagesReceivedMetric counts messages completed per receiving queue.
func MessagesReceivedMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received by queue.",
		},
		[]string{"queue"},
	)
}

// Metrics holds the counters on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	log      logger.Logger
	registry *prometheus.Registry
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
}

func New(log logger.Logger) *Metrics {
	m := &Metrics{
		log:      log.WithIndex("metrics", namespace),
		registry: prometheus.NewRegistry(),
		sent:     MessagesSentMetric(),
		received: MessagesReceivedMetric(),
	}
	m.registry.MustRegister(m.sent, m.received)
	return m
}

func (m *Metrics) MessageSent(entity string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(entity).Inc()
}

func (m *Metrics) MessageReceived(queue string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(queue).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}
