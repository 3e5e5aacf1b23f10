package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the relay
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Relay metrics
	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessagesRelayed  *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec

	// Integration metrics
	BrokerOperations *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	PresenceOps      *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, so tests can
// build as many as they like
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections",
				Help:      "Open websocket connections",
			},
		),
		Rooms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms",
				Help:      "Problems with at least one connection",
			},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Envelopes accepted from clients",
			},
			[]string{"type"},
		),
		MessagesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_relayed_total",
				Help:      "Envelopes delivered to peer connections",
			},
			[]string{"type"},
		),
		MessagesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_rejected_total",
				Help:      "Envelopes rejected before fan-out",
			},
			[]string{"reason"},
		),
		BrokerOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_operations_total",
				Help:      "Broker publish and receive operations",
			},
			[]string{"operation", "status"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Domain events sent to the event sink",
			},
			[]string{"status"},
		),
		PresenceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_operations_total",
				Help:      "Connection record operations",
			},
			[]string{"operation", "status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.Connections,
		c.Rooms,
		c.MessagesReceived,
		c.MessagesRelayed,
		c.MessagesRejected,
		c.BrokerOperations,
		c.EventsPublished,
		c.PresenceOps,
	)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Status returns the label used for success/failure counters
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
