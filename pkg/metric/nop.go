package metric

import (
	"net/http"
	"time"
)

// NewNopFactory returns a Factory whose collectors discard everything.
// Intended for tests and tooling that wires components without a registry.
func NewNopFactory() Factory {
	return nopFactory{}
}

type nopFactory struct{}

func (nopFactory) HTTP() HTTP               { return nopHTTP{} }
func (nopFactory) Transaction() Transaction { return nopTransaction{} }
func (nopFactory) Gateway() Gateway         { return nopGateway{} }
func (nopFactory) Outbox() Outbox           { return nopOutbox{} }
func (nopFactory) Webhook() Webhook         { return nopWebhook{} }
func (nopFactory) Handler() http.Handler    { return http.NotFoundHandler() }

type nopHTTP struct{}

func (nopHTTP) Request(string, string, int, time.Duration)     {}
func (nopHTTP) SlowRequest(string, string, int, time.Duration) {}

type nopTransaction struct{}

func (nopTransaction) ObserveDuration(string, time.Duration) {}
func (nopTransaction) IncrementRetries(string)               {}
func (nopTransaction) IncrementFailures(string)              {}

type nopGateway struct{}

func (nopGateway) Call(string, string, time.Duration) {}
func (nopGateway) Retry(string)                       {}
func (nopGateway) BreakerState(string)                {}
func (nopGateway) BreakerFastFail()                   {}

type nopOutbox struct{}

func (nopOutbox) Published(string)            {}
func (nopOutbox) PublishFailed(string, string) {}
func (nopOutbox) Retried(string)              {}
func (nopOutbox) Exhausted(string)            {}
func (nopOutbox) Swept(int)                   {}
func (nopOutbox) Requeued(int)                {}
func (nopOutbox) BatchSize(int)               {}

type nopWebhook struct{}

func (nopWebhook) Processed(string)        {}
func (nopWebhook) Duplicate(string)        {}
func (nopWebhook) UnknownReference(string) {}
func (nopWebhook) Rejected(string, string) {}
