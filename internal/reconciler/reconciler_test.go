package reconciler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"paycore/internal/entity"
	"paycore/internal/reconciler"
	"paycore/pkg/logger"
	"paycore/pkg/metric"

	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	err      error
	received []entity.GatewayCallback
}

func (a *fakeApplier) ApplyGatewayEvent(
	_ context.Context,
	callback entity.GatewayCallback,
) (*entity.Payment, error) {
	a.received = append(a.received, callback)
	if a.err != nil {
		return nil, a.err
	}
	return &entity.Payment{Status: entity.StatusCompleted}, nil
}

func newReconciler(applier *fakeApplier) *reconciler.Reconciler {
	return reconciler.New(applier, logger.NewNop(), metric.NewNopFactory().Webhook())
}

func validCallback() entity.GatewayCallback {
	return entity.GatewayCallback{
		ProviderEventID: "evt_1",
		TxnRef:          "txn_1",
		Type:            entity.CallbackPaymentSucceeded,
		OccurredAt:      time.Now(),
	}
}

func TestReconciler_AppliesCallback(t *testing.T) {
	applier := &fakeApplier{}

	err := newReconciler(applier).Process(context.Background(), validCallback())

	require.NoError(t, err)
	require.Len(t, applier.received, 1)
}

func TestReconciler_RejectsMalformedCallback(t *testing.T) {
	applier := &fakeApplier{}
	callback := validCallback()
	callback.ProviderEventID = ""

	err := newReconciler(applier).Process(context.Background(), callback)

	require.ErrorIs(t, err, entity.ErrInvalidData)
	// Never reaches the service.
	require.Empty(t, applier.received)
}

func TestReconciler_RejectsUnknownCallbackType(t *testing.T) {
	applier := &fakeApplier{}
	callback := validCallback()
	callback.Type = "charge.exploded"

	err := newReconciler(applier).Process(context.Background(), callback)

	require.ErrorIs(t, err, entity.ErrInvalidData)
}

func TestReconciler_AbsorbsDuplicates(t *testing.T) {
	for name, applierErr := range map[string]error{
		"claimed event id":    entity.ErrConflictingData,
		"replayed transition": entity.ErrInvalidTransition,
		"unknown reference":   entity.ErrDataNotFound,
	} {
		t.Run(name, func(t *testing.T) {
			applier := &fakeApplier{err: applierErr}

			err := newReconciler(applier).Process(context.Background(), validCallback())

			require.NoError(t, err)
		})
	}
}

func TestReconciler_SurfacesInfraFailures(t *testing.T) {
	applier := &fakeApplier{err: errors.New("connection reset")}

	err := newReconciler(applier).Process(context.Background(), validCallback())

	require.Error(t, err)
	require.NotErrorIs(t, err, entity.ErrInvalidData)
}

func TestReconciler_SurfacesLostRace(t *testing.T) {
	applier := &fakeApplier{err: entity.ErrConcurrentModification}

	err := newReconciler(applier).Process(context.Background(), validCallback())

	// The provider redelivers and the next attempt sees fresh state.
	require.ErrorIs(t, err, entity.ErrConcurrentModification)
}
