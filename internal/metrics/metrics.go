package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the extension pipeline
type Metrics struct {
	registry *prometheus.Registry

	ExtensionsDiscoveredTotal prometheus.Counter
	ExtensionLoadsTotal       *prometheus.CounterVec
	ExtensionsExcludedTotal   *prometheus.CounterVec
	ExtensionInitsTotal       *prometheus.CounterVec
	ExtensionInitDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ExtensionsDiscoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "extensions_discovered_total",
				Help: "Total number of extension packages discovered",
			},
		),
		ExtensionLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extension_loads_total",
				Help: "Total number of extension load attempts",
			},
			[]string{"status"},
		),
		ExtensionsExcludedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extensions_excluded_total",
				Help: "Total number of loaded extensions without an entry point for the role",
			},
			[]string{"role"},
		),
		ExtensionInitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extension_inits_total",
				Help: "Total number of extension entry point invocations",
			},
			[]string{"role", "status"},
		),
		ExtensionInitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extension_init_duration_seconds",
				Help:    "Duration of extension entry point invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role", "extension"},
		),
	}

	m.registry.MustRegister(
		m.ExtensionsDiscoveredTotal,
		m.ExtensionLoadsTotal,
		m.ExtensionsExcludedTotal,
		m.ExtensionInitsTotal,
		m.ExtensionInitDuration,
	)

	return m
}

// ExtensionsDiscovered records the size of one discovery pass
func (m *Metrics) ExtensionsDiscovered(count int) {
	m.ExtensionsDiscoveredTotal.Add(float64(count))
}

// ExtensionLoaded records one load attempt
func (m *Metrics) ExtensionLoaded(_ string, err error) {
	m.ExtensionLoadsTotal.WithLabelValues(status(err)).Inc()
}

// ExtensionExcluded records an extension skipped for role
func (m *Metrics) ExtensionExcluded(role string) {
	m.ExtensionsExcludedTotal.WithLabelValues(role).Inc()
}

// ExtensionInitialized records one entry point invocation
func (m *Metrics) ExtensionInitialized(role, name string, duration time.Duration, err error) {
	m.ExtensionInitsTotal.WithLabelValues(role, status(err)).Inc()
	m.ExtensionInitDuration.WithLabelValues(role, name).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
