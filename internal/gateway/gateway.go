// Package gateway wraps the external card-payment provider behind a
// uniform client. The provider is an opaque remote service: all we rely
// on is the documented JSON contract and the idempotency-key semantics.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	// OutcomeSucceeded means the charge landed; TxnRef is set.
	OutcomeSucceeded Outcome = "SUCCEEDED"
	// OutcomePending means the provider accepted the request but the
	// final result arrives asynchronously via webhook.
	OutcomePending Outcome = "PENDING"
	// OutcomeDeclined is a business rejection; never retried.
	OutcomeDeclined Outcome = "DECLINED"
	// OutcomeTransient covers network faults, timeouts and provider 5xx;
	// safe to retry with the same idempotency key.
	OutcomeTransient Outcome = "TRANSIENT_FAILURE"
	// OutcomeFatal is a permanent rejection (malformed request, revoked
	// credentials); never retried.
	OutcomeFatal Outcome = "FATAL"
)

type Result struct {
	Outcome Outcome
	TxnRef  string
	Reason  string
}

func (r Result) Retryable() bool {
	return r.Outcome == OutcomeTransient
}

type AuthorizeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	MethodToken    string
	IdempotencyKey string
}

type RefundRequest struct {
	TxnRef         string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type Client interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Result, error)
	Confirm(ctx context.Context, txnRef, idempotencyKey string) (Result, error)
	Cancel(ctx context.Context, txnRef, idempotencyKey string) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}
