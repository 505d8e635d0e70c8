// Package metrics exposes Prometheus collectors for the live core:
// session counts, publishes, and dropped deliveries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors shared by the registry, broker, and
// transports.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	DeliveriesDropped *prometheus.CounterVec
	OperationsTotal   *prometheus.CounterVec
}

// Config controls metric naming and registration.
type Config struct {
	// Namespace prefixes all metric names (default "taskboard").
	Namespace string
	// Registry receives the collectors. Defaults to the global
	// registerer.
	Registry prometheus.Registerer
}

// New registers the taskboard collectors and returns them.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "taskboard"
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_sessions",
			Help:      "Number of live connections currently registered.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "events_published_total",
			Help:      "Events published to the broker, by topic.",
		}, []string{"topic"}),
		DeliveriesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Fan-out deliveries dropped due to closed or backpressured sessions, by topic.",
		}, []string{"topic"}),
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "operations_total",
			Help:      "Dispatched operations, by operation name and outcome.",
		}, []string{"operation", "outcome"}),
	}
}
