package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Factory = (*prometheusFactory)(nil)

type prometheusFactory struct {
	registry    *promRegistry
	http        *httpMetrics
	transaction *transactionMetrics
	gateway     *gatewayMetrics
	outbox      *outboxMetrics
	webhook     *webhookMetrics
}

func NewFactory() Factory {
	registry := newPromRegistry()

	return &prometheusFactory{
		registry:    registry,
		http:        newHTTPMetrics(registry),
		transaction: newTransactionMetrics(registry),
		gateway:     newGatewayMetrics(registry),
		outbox:      newOutboxMetrics(registry),
		webhook:     newWebhookMetrics(registry),
	}
}

func (f *prometheusFactory) HTTP() HTTP {
	return f.http
}

func (f *prometheusFactory) Transaction() Transaction {
	return f.transaction
}

func (f *prometheusFactory) Gateway() Gateway {
	return f.gateway
}

func (f *prometheusFactory) Outbox() Outbox {
	return f.outbox
}

func (f *prometheusFactory) Webhook() Webhook {
	return f.webhook
}

func (f *prometheusFactory) Handler() http.Handler {
	return promhttp.HandlerFor(f.registry.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})
}

type promRegistry struct {
	registry *prometheus.Registry
}

func newPromRegistry() *promRegistry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &promRegistry{registry: reg}
}
