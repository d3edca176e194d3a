package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ Webhook = (*webhookMetrics)(nil)

type webhookMetrics struct {
	processed  *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	unknown    *prometheus.CounterVec
	rejected   *prometheus.CounterVec
}

func newWebhookMetrics(registry *promRegistry) *webhookMetrics {
	processed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_processed_total",
			Help: "Total number of provider callbacks applied to a payment",
		},
		[]string{"type"},
	)

	duplicates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_duplicate_total",
			Help: "Total number of callbacks skipped as already processed",
		},
		[]string{"type"},
	)

	unknown := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_unknown_reference_total",
			Help: "Total number of callbacks with no matching payment",
		},
		[]string{"type"},
	)

	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_rejected_total",
			Help: "Total number of callbacks rejected during processing",
		},
		[]string{"type", "reason"},
	)

	registry.registry.MustRegister(processed, duplicates, unknown, rejected)

	return &webhookMetrics{
		processed:  processed,
		duplicates: duplicates,
		unknown:    unknown,
		rejected:   rejected,
	}
}

func (m *webhookMetrics) Processed(callbackType string) {
	m.processed.WithLabelValues(callbackType).Add(1)
}

func (m *webhookMetrics) Duplicate(callbackType string) {
	m.duplicates.WithLabelValues(callbackType).Add(1)
}

func (m *webhookMetrics) UnknownReference(callbackType string) {
	m.unknown.WithLabelValues(callbackType).Add(1)
}

func (m *webhookMetrics) Rejected(callbackType string, reason string) {
	m.rejected.WithLabelValues(callbackType, reason).Add(1)
}
