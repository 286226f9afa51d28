package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on a private registry, so
// several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	Latency   prometheus.Histogram
	Fallbacks prometheus.Counter
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "because",
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Total number of relay HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		Latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "because",
				Subsystem: "relay",
				Name:      "classification_duration_seconds",
				Help:      "Time spent resolving topics for one request",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "because",
				Subsystem: "relay",
				Name:      "fallbacks_total",
				Help:      "Requests answered with the fallback topic after a failure",
			},
		),
	}

	registry.MustRegister(
		m.Requests,
		m.Latency,
		m.Fallbacks,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
