package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ Outbox = (*outboxMetrics)(nil)

type outboxMetrics struct {
	published      *prometheus.CounterVec
	publishFailed  *prometheus.CounterVec
	retried        *prometheus.CounterVec
	exhausted      *prometheus.CounterVec
	sweptHistogram    prometheus.Histogram
	requeuedHistogram prometheus.Histogram
	batchHistogram    prometheus.Histogram
}

func newOutboxMetrics(registry *promRegistry) *outboxMetrics {
	published := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox entries delivered to the event bus",
		},
		[]string{"topic"},
	)

	publishFailed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
		[]string{"topic", "reason"},
	)

	retried := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_retries_total",
			Help: "Total number of outbox entries returned to pending for retry",
		},
		[]string{"topic"},
	)

	exhausted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_exhausted_total",
			Help: "Total number of outbox entries that hit the retry ceiling",
		},
		[]string{"topic"},
	)

	swept := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_swept_entries",
			Help:    "Number of stuck in-flight entries released per sweep",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	requeued := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_requeued_entries",
			Help:    "Number of cooled-down failed entries requeued per sweep",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	batch := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_batch_size",
			Help:    "Number of entries claimed per relay batch",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	registry.registry.MustRegister(published, publishFailed, retried, exhausted, swept, requeued, batch)

	return &outboxMetrics{
		published:         published,
		publishFailed:     publishFailed,
		retried:           retried,
		exhausted:         exhausted,
		sweptHistogram:    swept,
		requeuedHistogram: requeued,
		batchHistogram:    batch,
	}
}

func (m *outboxMetrics) Published(topic string) {
	m.published.WithLabelValues(topic).Add(1)
}

func (m *outboxMetrics) PublishFailed(topic string, reason string) {
	m.publishFailed.WithLabelValues(topic, reason).Add(1)
}

func (m *outboxMetrics) Retried(topic string) {
	m.retried.WithLabelValues(topic).Add(1)
}

func (m *outboxMetrics) Exhausted(topic string) {
	m.exhausted.WithLabelValues(topic).Add(1)
}

func (m *outboxMetrics) Swept(count int) {
	m.sweptHistogram.Observe(float64(count))
}

func (m *outboxMetrics) Requeued(count int) {
	m.requeuedHistogram.Observe(float64(count))
}

func (m *outboxMetrics) BatchSize(size int) {
	m.batchHistogram.Observe(float64(size))
}
