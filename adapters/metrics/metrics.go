// Package metrics provides Prometheus metrics collection for the resource
// server.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "server_api"

// Collector holds all Prometheus metrics of the server.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BatchItemFailures *prometheus.CounterVec
	IndexSyncTotal    *prometheus.CounterVec
	IndexDocuments    *prometheus.GaugeVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "resource", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "resource", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of resource operations by outcome status",
			},
			[]string{"resource", "operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_operation_duration_seconds",
				Help:      "Resource operation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"resource", "operation"},
		),
		BatchItemFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_batch_item_failures_total",
				Help:      "Total number of failed ids in get and remove batches",
			},
			[]string{"resource", "operation"},
		),
		IndexSyncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_index_sync_total",
				Help:      "Total number of search index writes by result",
			},
			[]string{"resource", "action", "result"},
		),
		IndexDocuments: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_index_documents",
				Help:      "Documents loaded by the last index bootstrap",
			},
			[]string{"resource"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// OperationDone implements pipeline.Observer.
func (c *Collector) OperationDone(resource, op string, status int, d time.Duration) {
	c.OperationsTotal.WithLabelValues(resource, op, strconv.Itoa(status)).Inc()
	c.OperationDuration.WithLabelValues(resource, op).Observe(d.Seconds())
}

// BatchItemFailed implements pipeline.Observer.
func (c *Collector) BatchItemFailed(resource, op string) {
	c.BatchItemFailures.WithLabelValues(resource, op).Inc()
}

// IndexSynced implements pipeline.Observer.
func (c *Collector) IndexSynced(resource, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.IndexSyncTotal.WithLabelValues(resource, action, result).Inc()
}

// Subscribe records index bootstrap results published on bus.
func (c *Collector) Subscribe(bus *events.Bus) {
	bus.Subscribe("*", func(_ context.Context, e events.Event) error {
		if e.Action != events.ActionIndexBuilt {
			return nil
		}
		if n, ok := e.Data["documents"].(int); ok {
			c.IndexDocuments.WithLabelValues(e.Resource).Set(float64(n))
		}
		return nil
	})
}

// ConfigReloaded records the result of a configuration reload.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// StatusClass reduces a status code to its class, e.g. 404 -> "4xx".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Ensure interface compliance.
var _ pipeline.Observer = (*Collector)(nil)
