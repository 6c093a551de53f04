package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ MetricsCollector = (*PrometheusCollector)(nil)

// PrometheusCollector records HTTP request counts and latency.
type PrometheusCollector struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewPrometheusCollector creates the collectors and registers them with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total number of HTTP requests served by route and status",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(c.Requests, c.Duration)
	return c
}

func (c *PrometheusCollector) RecordRequest(method, route, status string, duration time.Duration) {
	c.Requests.WithLabelValues(method, route, status).Inc()
	c.Duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// MetricsHandler serves the collectors gathered by g in the Prometheus text
// format.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
