// Package reconciler folds asynchronous gateway callbacks into payment
// state. Providers redeliver aggressively, so everything here is written
// to absorb repeats: a duplicate event id, a replayed transition, or a
// reference we never issued all acknowledge cleanly.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"paycore/internal/entity"
	"paycore/pkg/logger"
	"paycore/pkg/metric"

	"github.com/go-playground/validator/v10"
)

type (
	PaymentApplier interface {
		ApplyGatewayEvent(ctx context.Context, callback entity.GatewayCallback) (*entity.Payment, error)
	}

	Reconciler struct {
		applier  PaymentApplier
		validate *validator.Validate
		logger   logger.Logger
		metrics  metric.Webhook
	}
)

func New(applier PaymentApplier, log logger.Logger, metrics metric.Webhook) *Reconciler {
	return &Reconciler{
		applier:  applier,
		validate: validator.New(),
		logger:   log,
		metrics:  metrics,
	}
}

// Process applies one callback. A nil return means the provider may stop
// redelivering; an error means it should try again later. Malformed
// callbacks come back wrapped in entity.ErrInvalidData so the transport
// can reject them permanently.
func (r *Reconciler) Process(ctx context.Context, callback entity.GatewayCallback) error {
	const op = "reconciler.Process"
	log := r.logger.Ctx(ctx)

	if err := r.validate.Struct(&callback); err != nil {
		r.metrics.Rejected(callback.Type, "invalid_payload")
		return fmt.Errorf("%s: %v: %w", op, err, entity.ErrInvalidData)
	}

	_, err := r.applier.ApplyGatewayEvent(ctx, callback)
	switch {
	case err == nil:
		r.metrics.Processed(callback.Type)
		log.LogAttrs(ctx, logger.InfoLevel, "gateway callback applied",
			logger.String("op", op),
			logger.String("provider_event_id", callback.ProviderEventID),
			logger.String("callback_type", callback.Type),
		)
		return nil

	case errors.Is(err, entity.ErrConflictingData):
		// Literal redelivery of an event we already claimed.
		r.metrics.Duplicate(callback.Type)
		log.LogAttrs(ctx, logger.DebugLevel, "duplicate gateway callback absorbed",
			logger.String("op", op),
			logger.String("provider_event_id", callback.ProviderEventID),
		)
		return nil

	case errors.Is(err, entity.ErrInvalidTransition):
		// The fact is already reflected in the payment, under another
		// event id. Acknowledging stops the redelivery loop.
		r.metrics.Duplicate(callback.Type)
		log.LogAttrs(ctx, logger.DebugLevel, "replayed transition absorbed",
			logger.String("op", op),
			logger.String("provider_event_id", callback.ProviderEventID),
		)
		return nil

	case errors.Is(err, entity.ErrDataNotFound):
		// A reference we never issued. Acknowledge so the provider does
		// not hammer us, but keep it visible.
		r.metrics.UnknownReference(callback.Type)
		log.LogAttrs(ctx, logger.WarnLevel, "callback for unknown transaction reference",
			logger.String("op", op),
			logger.String("provider_event_id", callback.ProviderEventID),
			logger.String("txn_ref", callback.TxnRef),
		)
		return nil

	case errors.Is(err, entity.ErrInvalidData):
		r.metrics.Rejected(callback.Type, "invalid_payload")
		return fmt.Errorf("%s: %w", op, err)

	default:
		// Infra failure or a lost optimistic race: let the provider
		// redeliver.
		r.metrics.Rejected(callback.Type, "internal_error")
		return fmt.Errorf("%s: %w", op, err)
	}
}
