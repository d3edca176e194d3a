package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusCanceled   PaymentStatus = "CANCELED"
	StatusRefunded   PaymentStatus = "REFUNDED"
)

// IsTerminal reports whether no further transition is accepted from s.
// Completed is not terminal: it still accepts a refund request.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID             uuid.UUID       `json:"id"`
	OrderRef       uuid.UUID       `json:"order_ref"       validate:"required,uuid_strict"`
	UserRef        uuid.UUID       `json:"user_ref"        validate:"required,uuid_strict"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"        validate:"required,len=3"`
	Status         PaymentStatus   `json:"status"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	MethodRef      *uuid.UUID      `json:"method_ref,omitempty"`
	GatewayTxnRef  *string         `json:"gateway_txn_ref,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	// Retryable marks a Failed payment whose failure was transient and may
	// be replayed by an operator.
	Retryable   bool       `json:"retryable"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type PaymentMethodType string

const (
	MethodCard   PaymentMethodType = "CARD"
	MethodBank   PaymentMethodType = "BANK"
	MethodWallet PaymentMethodType = "WALLET"
)

type PaymentMethod struct {
	ID            uuid.UUID         `json:"id"`
	UserRef       uuid.UUID         `json:"user_ref"       validate:"required,uuid_strict"`
	Type          PaymentMethodType `json:"type"           validate:"required,oneof=CARD BANK WALLET"`
	ProviderToken string            `json:"-"              validate:"required"`
	MaskedID      string            `json:"masked_id"      validate:"required,max=20"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	IsDefault     bool              `json:"is_default"`
	CreatedAt     time.Time         `json:"created_at"`
}
