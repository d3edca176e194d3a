package entity

import (
	"errors"
)

var (
	ErrDataNotFound     = errors.New("data not found")
	ErrConflictingData  = errors.New("data conflicts with existing data in unique column")
	ErrInvalidData      = errors.New("invalid data")
	ErrConfigPathNotSet = errors.New("CONFIG_PATH not set and -config flag not provided")

	// Business rejections. These are expected outcomes, recovered into
	// typed results at component boundaries, never panics.
	ErrInvalidTransition      = errors.New("illegal state transition")
	ErrInvalidState           = errors.New("operation not legal in current payment state")
	ErrConcurrentModification = errors.New("payment was modified concurrently, re-read and retry")
	ErrDuplicateOrder         = errors.New("an active payment already exists for this order")
	ErrRefundExceedsAmount    = errors.New("refund amount exceeds remaining payment amount")

	// Gateway outcomes surfaced by the client.
	ErrGatewayDeclined  = errors.New("gateway declined the transaction")
	ErrGatewayTransient = errors.New("gateway transient failure")
	ErrGatewayFatal     = errors.New("gateway fatal failure")
	ErrBreakerOpen      = errors.New("gateway circuit breaker is open")
)
