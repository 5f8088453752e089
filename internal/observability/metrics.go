// Package observability exposes the engine's Prometheus metrics over HTTP.
package observability

import (
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Proximity *metrics.ProximityMetrics
	MQTT      *metrics.MQTTMetrics
}

// NewMetrics creates a registry with the process, Go runtime and engine
// collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.New(err).Component("observability").Category(errors.CategoryConfiguration).Build()
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, errors.New(err).Component("observability").Category(errors.CategoryConfiguration).Build()
	}

	proximityMetrics, err := metrics.NewProximityMetrics(registry)
	if err != nil {
		return nil, errors.New(err).Component("observability").Category(errors.CategoryConfiguration).Build()
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, errors.New(err).Component("observability").Category(errors.CategoryConfiguration).Build()
	}

	return &Metrics{
		registry:  registry,
		Proximity: proximityMetrics,
		MQTT:      mqttMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
