package fsm_test

import (
	"errors"
	"testing"

	"paycore/internal/entity"
	"paycore/internal/fsm"
)

var allStatuses = []entity.PaymentStatus{
	entity.StatusPending,
	entity.StatusProcessing,
	entity.StatusCompleted,
	entity.StatusFailed,
	entity.StatusCanceled,
	entity.StatusRefunded,
}

var allEvents = []entity.PaymentEvent{
	entity.EventAuthorizeSucceeded,
	entity.EventAuthorizePending,
	entity.EventAuthorizeDeclined,
	entity.EventCancelRequested,
	entity.EventGatewayConfirmed,
	entity.EventGatewayFailed,
	entity.EventRefundRequested,
}

func TestNext_LegalTransitions(t *testing.T) {
	testCases := []struct {
		from  entity.PaymentStatus
		event entity.PaymentEvent
		to    entity.PaymentStatus
	}{
		{entity.StatusPending, entity.EventAuthorizeSucceeded, entity.StatusCompleted},
		{entity.StatusPending, entity.EventAuthorizePending, entity.StatusProcessing},
		{entity.StatusPending, entity.EventAuthorizeDeclined, entity.StatusFailed},
		{entity.StatusPending, entity.EventCancelRequested, entity.StatusCanceled},
		{entity.StatusProcessing, entity.EventGatewayConfirmed, entity.StatusCompleted},
		{entity.StatusProcessing, entity.EventGatewayFailed, entity.StatusFailed},
		{entity.StatusProcessing, entity.EventCancelRequested, entity.StatusCanceled},
		{entity.StatusCompleted, entity.EventRefundRequested, entity.StatusRefunded},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"_"+string(tc.event), func(t *testing.T) {
			to, err := fsm.Next(tc.from, tc.event)
			if err != nil {
				t.Fatalf("expected transition to be legal, got %v", err)
			}
			if to != tc.to {
				t.Fatalf("expected %s, got %s", tc.to, to)
			}
		})
	}
}

// Every (state, event) pair outside the table must be rejected with
// ErrInvalidTransition. The legal set is re-declared here so a table edit
// in the implementation cannot silently pass.
func TestNext_AllOtherPairsRejected(t *testing.T) {
	legal := map[entity.PaymentStatus]map[entity.PaymentEvent]bool{
		entity.StatusPending: {
			entity.EventAuthorizeSucceeded: true,
			entity.EventAuthorizePending:   true,
			entity.EventAuthorizeDeclined:  true,
			entity.EventCancelRequested:    true,
		},
		entity.StatusProcessing: {
			entity.EventGatewayConfirmed: true,
			entity.EventGatewayFailed:    true,
			entity.EventCancelRequested:  true,
		},
		entity.StatusCompleted: {
			entity.EventRefundRequested: true,
		},
	}

	for _, from := range allStatuses {
		for _, event := range allEvents {
			if legal[from][event] {
				continue
			}
			to, err := fsm.Next(from, event)
			if err == nil {
				t.Fatalf("expected %s on %s to be rejected, got %s", event, from, to)
			}
			if !errors.Is(err, entity.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition for %s on %s, got %v", event, from, err)
			}
			if fsm.CanApply(from, event) {
				t.Fatalf("CanApply(%s, %s) = true, want false", from, event)
			}
		}
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, from := range []entity.PaymentStatus{
		entity.StatusFailed,
		entity.StatusCanceled,
		entity.StatusRefunded,
	} {
		if !from.IsTerminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for _, event := range allEvents {
			if _, err := fsm.Next(from, event); err == nil {
				t.Fatalf("terminal state %s accepted %s", from, event)
			}
		}
	}
}

func TestCompletedIsNotTerminal(t *testing.T) {
	if entity.StatusCompleted.IsTerminal() {
		t.Fatal("Completed must still accept refund_requested")
	}
}
