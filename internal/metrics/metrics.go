package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingUpdates  *prometheus.CounterVec
	TGOutgoingMessages *prometheus.CounterVec
	BackendRequests    *prometheus.CounterVec
	BackendLatency     *prometheus.HistogramVec
	WebhookEvents      *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_updates_total",
				Help:      "Total incoming Telegram updates processed.",
			}, []string{"type"}),
			TGOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_messages_total",
				Help:      "Total outgoing Telegram messages sent or edited.",
			}, []string{"type"}),
			BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gifty_backend_requests_total",
				Help:      "Total gifty backend API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gifty_backend_request_duration_seconds",
				Help:      "Latency distribution for gifty backend API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total webhook notifications received by type and status.",
			}, []string{"type", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingUpdates,
			metricsInstance.TGOutgoingMessages,
			metricsInstance.BackendRequests,
			metricsInstance.BackendLatency,
			metricsInstance.WebhookEvents,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
