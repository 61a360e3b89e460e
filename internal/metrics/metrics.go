// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Close reasons used for the connections_closed_total label.
const (
	ReasonClientClosed = "client_closed"
	ReasonDecodeError  = "decode_error"
	ReasonTransport    = "transport_error"
	ReasonShutdown     = "shutdown"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayMetrics groups the counters and gauges touched by the hub and the
// connection pumps. It implements hub.Observer.
type RelayMetrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec
	EventsReceived    prometheus.Counter
	EventsPublished   prometheus.Counter
	EventsDelivered   prometheus.Counter
	EventsDropped     prometheus.Counter
	LagSignals        prometheus.Counter
	DecodeErrors      prometheus.Counter
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_closed_total",
			Help:      "Total number of closed WebSocket connections by reason.",
		}, []string{"reason"}),
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Total number of events decoded from clients.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Total number of events published to at least one subscriber.",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "queued_total",
			Help:      "Total number of per-subscriber event deliveries queued by the hub.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Total number of events dropped from full subscriber queues.",
		}),
		LagSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "lag_signals_total",
			Help:      "Total number of lag signals consumed by outbound pumps.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "decode_errors_total",
			Help:      "Total number of inbound frames that failed to decode.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.ConnectionsClosed,
		m.EventsReceived,
		m.EventsPublished,
		m.EventsDelivered,
		m.EventsDropped,
		m.LagSignals,
		m.DecodeErrors,
	)
	return m
}

// Published implements hub.Observer.
func (m *RelayMetrics) Published(recipients int) {
	m.EventsPublished.Inc()
	m.EventsDelivered.Add(float64(recipients))
}

// Dropped implements hub.Observer.
func (m *RelayMetrics) Dropped() {
	m.EventsDropped.Inc()
}

// RegisterSubscriberGauge exposes the live hub subscription count.
func RegisterSubscriberGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "subscribers",
		Help:      "Number of live hub subscriptions.",
	}, func() float64 {
		return float64(count())
	}))
}
