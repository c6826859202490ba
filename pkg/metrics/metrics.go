// Package metrics exposes repository operation metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/repository"
)

// Config configures the metrics registry and its HTTP endpoint.
type Config struct {
	// Address is the listen address of the /metrics server, e.g. ":9090".
	Address string
	// ServiceName is attached to every metric as the "service" label.
	ServiceName string
	// EnableDefaultCollectors registers Go runtime and process collectors.
	EnableDefaultCollectors bool
}

// Metrics owns a dedicated registry and implements repository.Observer.
type Metrics struct {
	Server   *http.Server
	Registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

var _ repository.Observer = (*Metrics)(nil)

// NewMetrics creates the registry, registers the operation metrics and
// prepares (but does not start) the HTTP server.
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	var registerer prometheus.Registerer = registry
	if cfg.ServiceName != "" {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)
	}

	m := &Metrics{
		Registry: registry,
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odm_operations_total",
			Help: "Repository operations by backend, collection, operation and outcome.",
		}, []string{"backend", "collection", "operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odm_operation_duration_seconds",
			Help:    "Repository operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
	}
	registerer.MustRegister(m.operationsTotal, m.operationDuration)

	if cfg.EnableDefaultCollectors {
		registerer.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.Server = &http.Server{
		Addr:    cfg.Address,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	return m
}

// Observe records one finished operation.
func (m *Metrics) Observe(_ context.Context, ev repository.OperationEvent) {
	m.operationsTotal.WithLabelValues(ev.Backend, ev.Collection, ev.Operation, Status(ev.Err)).Inc()
	m.operationDuration.WithLabelValues(ev.Backend, ev.Operation).Observe(ev.Duration.Seconds())
}

// Status classifies an operation error for the status label.
func Status(err error) string {
	var appErr *odmerrors.AppError
	switch {
	case err == nil:
		return "ok"
	case odmerrors.IsCapability(err):
		return "unsupported"
	case odmerrors.As(err, &appErr):
		return string(appErr.Type)
	default:
		return "error"
	}
}
