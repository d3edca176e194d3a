package metric

import (
	"net/http"
	"time"
)

type (
	Factory interface {
		HTTP() HTTP
		Transaction() Transaction
		Gateway() Gateway
		Outbox() Outbox
		Webhook() Webhook
		Handler() http.Handler
	}

	HTTP interface {
		Request(method, path string, status int, duration time.Duration)
		SlowRequest(method, path string, status int, duration time.Duration)
	}

	Transaction interface {
		ObserveDuration(operation string, duration time.Duration)
		IncrementRetries(operation string)
		IncrementFailures(operation string)
	}

	Gateway interface {
		Call(operation, outcome string, duration time.Duration)
		Retry(operation string)
		BreakerState(state string)
		BreakerFastFail()
	}

	Outbox interface {
		Published(topic string)
		PublishFailed(topic string, reason string)
		Retried(topic string)
		Exhausted(topic string)
		Swept(count int)
		Requeued(count int)
		BatchSize(size int)
	}

	Webhook interface {
		Processed(callbackType string)
		Duplicate(callbackType string)
		UnknownReference(callbackType string)
		Rejected(callbackType string, reason string)
	}
)
