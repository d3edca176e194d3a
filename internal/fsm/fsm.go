// Package fsm holds the payment lifecycle transition rules as a pure
// lookup with no I/O, so the legality of every transition is testable in
// isolation from storage and the gateway.
package fsm

import (
	"fmt"

	"paycore/internal/entity"
)

var transitions = map[entity.PaymentStatus]map[entity.PaymentEvent]entity.PaymentStatus{
	entity.StatusPending: {
		entity.EventAuthorizeSucceeded: entity.StatusCompleted,
		entity.EventAuthorizePending:   entity.StatusProcessing,
		entity.EventAuthorizeDeclined:  entity.StatusFailed,
		entity.EventCancelRequested:    entity.StatusCanceled,
	},
	entity.StatusProcessing: {
		entity.EventGatewayConfirmed: entity.StatusCompleted,
		entity.EventGatewayFailed:    entity.StatusFailed,
		entity.EventCancelRequested:  entity.StatusCanceled,
	},
	entity.StatusCompleted: {
		entity.EventRefundRequested: entity.StatusRefunded,
	},
}

// Next returns the status that event moves from into, or
// entity.ErrInvalidTransition when the pair is not in the table.
func Next(from entity.PaymentStatus, event entity.PaymentEvent) (entity.PaymentStatus, error) {
	byEvent, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("fsm.Next: %s on %s: %w", event, from, entity.ErrInvalidTransition)
	}
	to, ok := byEvent[event]
	if !ok {
		return "", fmt.Errorf("fsm.Next: %s on %s: %w", event, from, entity.ErrInvalidTransition)
	}
	return to, nil
}

// CanApply reports whether event is legal from the given status.
func CanApply(from entity.PaymentStatus, event entity.PaymentEvent) bool {
	_, err := Next(from, event)
	return err == nil
}
