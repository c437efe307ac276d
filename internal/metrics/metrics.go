// Package metrics exposes Prometheus instrumentation for the S3 API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service metrics and the Prometheus registry backing
// them.
type Registry struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Registry with the service collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skiff_s3_requests_total",
		Help: "S3 API requests by operation and response code.",
	}, []string{"operation", "code"})
	reg.MustRegister(requestsTotal)

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skiff_s3_request_duration_seconds",
		Help:    "S3 API request latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(requestDuration)

	return &Registry{
		registry:        reg,
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
	}
}

// ObserveRequest records one completed S3 request.
func (m *Registry) ObserveRequest(operation string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
