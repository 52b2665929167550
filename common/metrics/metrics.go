package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics contains HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// EventMetrics covers broker consumption and outbox publication
type EventMetrics struct {
	ConsumedTotal  *prometheus.CounterVec
	PublishedTotal *prometheus.CounterVec
	OutboxPending  prometheus.Gauge
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewEventMetrics creates broker/outbox metrics for a service
func NewEventMetrics(serviceName string) *EventMetrics {
	return &EventMetrics{
		ConsumedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_events_consumed_total",
				Help: "Total number of broker messages consumed",
			},
			[]string{"routing_key", "status"},
		),
		PublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_events_published_total",
				Help: "Total number of outbox events published",
			},
			[]string{"routing_key", "status"},
		),
		OutboxPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_outbox_pending",
				Help: "Outbox rows awaiting publication at the last drain tick",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordConsumed records a consumed message outcome ("ok", "error", "dropped")
func (m *EventMetrics) RecordConsumed(routingKey, status string) {
	if m == nil {
		return
	}
	m.ConsumedTotal.WithLabelValues(routingKey, status).Inc()
}

// RecordPublished records a published outbox event outcome
func (m *EventMetrics) RecordPublished(routingKey, status string) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(routingKey, status).Inc()
}

// SetOutboxPending records the pending outbox depth
func (m *EventMetrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}
