// Package metrics exposes the Prometheus instruments for the messaging
// pipeline. All methods are nil-safe so wiring metrics stays optional in
// tests and tools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	webhookItems  *prometheus.CounterVec
	webhookBodies prometheus.Histogram
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	outboundSends *prometheus.CounterVec
}

// New registers the pipeline instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapdesk_webhook_items_total",
			Help: "Webhook batch items by type and outcome.",
		}, []string{"type", "outcome"}),
		webhookBodies: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zapdesk_webhook_body_bytes",
			Help:    "Size of received webhook payloads.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapdesk_queue_tasks_total",
			Help: "Queue tasks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zapdesk_queue_task_duration_seconds",
			Help:    "Task handling latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		outboundSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapdesk_outbound_sends_total",
			Help: "Outbound sends by message type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

// WebhookItem counts one batch item.
func (m *Metrics) WebhookItem(itemType, outcome string) {
	if m == nil {
		return
	}
	m.webhookItems.WithLabelValues(itemType, outcome).Inc()
}

// WebhookBody observes a payload size.
func (m *Metrics) WebhookBody(bytes int) {
	if m == nil {
		return
	}
	m.webhookBodies.Observe(float64(bytes))
}

// Task counts one task outcome.
func (m *Metrics) Task(kind, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(kind, outcome).Inc()
}

// TaskDuration observes how long one task took.
func (m *Metrics) TaskDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// OutboundSend counts one send attempt.
func (m *Metrics) OutboundSend(messageType, outcome string) {
	if m == nil {
		return
	}
	m.outboundSends.WithLabelValues(messageType, outcome).Inc()
}
