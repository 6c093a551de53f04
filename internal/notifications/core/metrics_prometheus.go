package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ NotificationMetrics = (*PrometheusMetrics)(nil)

// PrometheusMetrics exposes worker metrics for scraping on /metrics.
type PrometheusMetrics struct {
	JobOutcomes      *prometheus.CounterVec
	DeliveryAttempts *prometheus.CounterVec
	DeliveryLatency  *prometheus.HistogramVec
	DeadLettered     prometheus.Counter
	QueueLag         prometheus.Histogram
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// Outcome series are pre-created at zero so dashboards see every label.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		JobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_job_outcomes_total",
			Help: "Total number of processed email jobs by terminal outcome",
		}, []string{"outcome"}),
		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_delivery_attempts_total",
			Help: "Total number of mail transport calls by provider and result",
		}, []string{"provider", "result"}),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_delivery_latency_seconds",
			Help:    "Duration of a single mail transport call",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_dead_lettered_total",
			Help: "Total number of records pushed to the dead-letter queue",
		}),
		QueueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_queue_lag_seconds",
			Help:    "Time between message enqueue and processing start",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
	}

	reg.MustRegister(m.JobOutcomes, m.DeliveryAttempts, m.DeliveryLatency, m.DeadLettered, m.QueueLag)
	for _, o := range Outcomes {
		m.JobOutcomes.WithLabelValues(string(o))
	}
	return m
}

func (m *PrometheusMetrics) RecordOutcome(_ context.Context, outcome Outcome) {
	m.JobOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (m *PrometheusMetrics) RecordAttempt(_ context.Context, provider string, result MetricResult, latency time.Duration) {
	m.DeliveryAttempts.WithLabelValues(provider, string(result)).Inc()
	m.DeliveryLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *PrometheusMetrics) RecordDeadLetter(context.Context) {
	m.DeadLettered.Inc()
}

func (m *PrometheusMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.QueueLag.Observe(lag.Seconds())
}
