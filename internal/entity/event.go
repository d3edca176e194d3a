package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEvent is an input to the payment state machine.
type PaymentEvent string

const (
	EventAuthorizeSucceeded PaymentEvent = "authorize_succeeded"
	EventAuthorizePending   PaymentEvent = "authorize_pending"
	EventAuthorizeDeclined  PaymentEvent = "authorize_declined"
	EventCancelRequested    PaymentEvent = "cancel_requested"
	EventGatewayConfirmed   PaymentEvent = "gateway_confirmed"
	EventGatewayFailed      PaymentEvent = "gateway_failed"
	EventRefundRequested    PaymentEvent = "refund_requested"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxInFlight  OutboxStatus = "IN_FLIGHT"
	OutboxDelivered OutboxStatus = "DELIVERED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxEntry is an undelivered domain event, written in the same
// transaction as the state change that produced it.
type OutboxEntry struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Topic         string          `json:"topic"`
	RoutingKey    string          `json:"routing_key"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Externally visible event types published on the bus.
const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentCanceled  = "payment.canceled"
	EventTypePaymentRefunded  = "payment.refunded"
)

// PaymentEventPayload is the wire payload of every payment.* event.
// EventID is server generated and used for consumer-side deduplication.
type PaymentEventPayload struct {
	EventID        uuid.UUID        `json:"event_id"`
	PaymentID      uuid.UUID        `json:"payment_id"`
	OrderRef       uuid.UUID        `json:"order_ref"`
	UserRef        uuid.UUID        `json:"user_ref"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	Status         PaymentStatus    `json:"status"`
	RefundedAmount *decimal.Decimal `json:"refunded_amount,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// GatewayCallback is an asynchronous provider notification. ProviderEventID
// deduplicates literal redeliveries; TxnRef locates the payment.
type GatewayCallback struct {
	ProviderEventID string           `json:"provider_event_id" validate:"required"`
	TxnRef          string           `json:"txn_ref"           validate:"required"`
	Type            string           `json:"type"              validate:"required,oneof=payment.succeeded payment.failed payment.canceled charge.refunded"`
	Reason          string           `json:"reason,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

const (
	CallbackPaymentSucceeded = "payment.succeeded"
	CallbackPaymentFailed    = "payment.failed"
	CallbackPaymentCanceled  = "payment.canceled"
	CallbackChargeRefunded   = "charge.refunded"
)
