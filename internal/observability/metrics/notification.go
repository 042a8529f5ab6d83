package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains Prometheus metrics for job notifications
// and administrator alerts. The operation of the Recorder methods is the
// sink name ("store", "mqtt") or "alert:<service>".
type NotificationMetrics struct {
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	deliveryErrors   *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry prometheus.Registerer) (*NotificationMetrics, error) {
	m := &NotificationMetrics{}
	m.deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of notification and alert deliveries",
		},
		[]string{"sink", "status"}, // status: success, error, suppressed
	)
	m.deliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Latency of notification deliveries",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"sink"},
	)
	m.deliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_errors_total",
			Help: "Total number of failed deliveries by error type",
		},
		[]string{"sink", "error_type"},
	)
	m.collectors = []prometheus.Collector{m.deliveriesTotal, m.deliveryDuration, m.deliveryErrors}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) RecordOperation(sink, status string) {
	m.deliveriesTotal.WithLabelValues(sink, status).Inc()
}

func (m *NotificationMetrics) RecordDuration(sink string, seconds float64) {
	m.deliveryDuration.WithLabelValues(sink).Observe(seconds)
}

func (m *NotificationMetrics) RecordError(sink, errorType string) {
	m.deliveryErrors.WithLabelValues(sink, errorType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}
