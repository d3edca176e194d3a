package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paycore/internal/entity"
	"paycore/internal/fsm"
	"paycore/internal/gateway"
	"paycore/pkg/clock"
	"paycore/pkg/logger"
	"paycore/pkg/storage/postgres"
	"paycore/pkg/storage/postgres/transaction"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const _aggregatePayment = "payment"

type (
	PaymentRepository interface {
		Create(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			payment *entity.Payment,
		) (*entity.Payment, error)
		GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
		GetActiveByOrderRef(ctx context.Context, orderRef uuid.UUID) (*entity.Payment, error)
		GetByTxnRef(ctx context.Context, txnRef string) (*entity.Payment, error)
		GetByUser(ctx context.Context, userRef uuid.UUID, limit, offset uint64) ([]entity.Payment, error)
		UpdateStatus(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			payment *entity.Payment,
			expectedVersion int64,
		) error
	}

	MethodRepository interface {
		Create(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			method *entity.PaymentMethod,
		) (*entity.PaymentMethod, error)
		GetByID(ctx context.Context, id uuid.UUID) (*entity.PaymentMethod, error)
		ListByUser(ctx context.Context, userRef uuid.UUID) ([]entity.PaymentMethod, error)
		SetDefault(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			userRef, methodID uuid.UUID,
		) error
		Delete(ctx context.Context, userRef, methodID uuid.UUID) error
	}

	OutboxRepository interface {
		Append(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			entry *entity.OutboxEntry,
		) (*entity.OutboxEntry, error)
		GetByID(ctx context.Context, id uuid.UUID) (*entity.OutboxEntry, error)
		CountsByStatus(ctx context.Context) (map[entity.OutboxStatus]int64, error)
		Requeue(ctx context.Context, id uuid.UUID) error
		RequeueAllFailed(ctx context.Context) (int64, error)
	}

	AuditRepository interface {
		Append(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			entry *entity.AuditEntry,
		) (*entity.AuditEntry, error)
		ListByPayment(
			ctx context.Context,
			paymentID uuid.UUID,
			limit, offset uint64,
		) ([]entity.AuditEntry, error)
		ListByTimeRange(
			ctx context.Context,
			from, to time.Time,
			limit, offset uint64,
		) ([]entity.AuditEntry, error)
		ListByActor(
			ctx context.Context,
			actorType entity.ActorType,
			limit, offset uint64,
		) ([]entity.AuditEntry, error)
	}

	WebhookRepository interface {
		Record(
			ctx context.Context,
			queryExecuter postgres.QueryExecuter,
			providerEventID string,
			paymentID uuid.UUID,
			callbackType string,
		) error
		Seen(ctx context.Context, providerEventID string) (bool, error)
	}

	PaymentService struct {
		paymentRepo PaymentRepository
		methodRepo  MethodRepository
		outboxRepo  OutboxRepository
		auditRepo   AuditRepository
		webhookRepo WebhookRepository
		txManager   transaction.Manager
		gateway     gateway.Client
		clock       clock.Clock
		logger      logger.Logger
		eventTopic  string
	}
)

func NewPaymentService(
	paymentRepo PaymentRepository,
	methodRepo MethodRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	webhookRepo WebhookRepository,
	txManager transaction.Manager,
	gatewayClient gateway.Client,
	clk clock.Clock,
	log logger.Logger,
	eventTopic string,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		methodRepo:  methodRepo,
		outboxRepo:  outboxRepo,
		auditRepo:   auditRepo,
		webhookRepo: webhookRepo,
		txManager:   txManager,
		gateway:     gatewayClient,
		clock:       clk,
		logger:      log,
		eventTopic:  eventTopic,
	}
}

type CreatePaymentInput struct {
	OrderRef uuid.UUID
	UserRef  uuid.UUID
	Amount   decimal.Decimal
	Currency string
	MethodID *uuid.UUID
}

// CreatePayment registers a pending payment for an order. An order with a
// live payment (anything but failed, canceled or refunded) rejects a
// second one.
func (ps *PaymentService) CreatePayment(
	ctx context.Context,
	input CreatePaymentInput,
) (*entity.Payment, error) {
	const op = "service.CreatePayment"
	log := ps.logger.Ctx(ctx)

	if err := ps.validateCreateInput(ctx, input); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := ps.paymentRepo.GetActiveByOrderRef(ctx, input.OrderRef)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%s: order %s: %w", op, input.OrderRef, entity.ErrDuplicateOrder)
	}
	if err != nil && !errors.Is(err, entity.ErrDataNotFound) {
		return nil, fmt.Errorf("%s: check duplicate: %w", op, err)
	}

	payment := &entity.Payment{
		ID:             uuid.New(),
		OrderRef:       input.OrderRef,
		UserRef:        input.UserRef,
		Amount:         input.Amount,
		Currency:       input.Currency,
		Status:         entity.StatusPending,
		RefundedAmount: decimal.Zero,
		MethodRef:      input.MethodID,
		Version:        1,
	}

	var created *entity.Payment
	err = ps.txManager.ExecuteInTransaction(ctx, "CreatePayment", func(tx postgres.QueryExecuter) error {
		var txErr error
		created, txErr = ps.paymentRepo.Create(ctx, tx, payment)
		if txErr != nil {
			return txErr
		}

		_, txErr = ps.auditRepo.Append(ctx, tx, ps.auditEntry(
			created, nil, "payment created",
			entity.Actor{Type: entity.ActorUser, ID: &input.UserRef}, nil,
		))
		return txErr
	})
	if err != nil {
		return nil, err
	}

	log.LogAttrs(ctx, logger.InfoLevel, "payment created",
		logger.String("op", op),
		logger.String("payment_id", created.ID.String()),
		logger.String("order_ref", created.OrderRef.String()),
		logger.String("amount", created.Amount.String()),
	)

	return created, nil
}

// ProcessPayment runs a pending payment through gateway authorization and
// commits the resulting transition. A declined or exhausted authorization
// is a valid end state, not an error: the returned payment carries it.
func (ps *PaymentService) ProcessPayment(
	ctx context.Context,
	paymentID uuid.UUID,
	actor entity.Actor,
) (*entity.Payment, error) {
	const op = "service.ProcessPayment"
	log := ps.logger.Ctx(ctx)

	payment, err := ps.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: load payment: %w", op, err)
	}

	if payment.Status != entity.StatusPending {
		return nil, fmt.Errorf("%s: payment %s is %s: %w",
			op, payment.ID, payment.Status, entity.ErrInvalidState)
	}

	token, err := ps.resolveMethodToken(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := ps.gateway.Authorize(ctx, gateway.AuthorizeRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		MethodToken:    token,
		IdempotencyKey: ps.idempotencyKey(payment, "authorize"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: authorize: %w", op, err)
	}

	log.LogAttrs(ctx, logger.InfoLevel, "authorization answered",
		logger.String("op", op),
		logger.String("payment_id", payment.ID.String()),
		logger.String("outcome", string(result.Outcome)),
	)

	switch result.Outcome {
	case gateway.OutcomeSucceeded:
		return ps.completeAuthorization(ctx, payment, result, entity.EventAuthorizeSucceeded, actor)
	case gateway.OutcomePending:
		return ps.completeAuthorization(ctx, payment, result, entity.EventAuthorizePending, actor)
	default:
		return ps.failAuthorization(ctx, payment, result, actor)
	}
}

func (ps *PaymentService) completeAuthorization(
	ctx context.Context,
	payment *entity.Payment,
	result gateway.Result,
	event entity.PaymentEvent,
	actor entity.Actor,
) (*entity.Payment, error) {
	return ps.applyTransition(ctx, payment, event, actor, "gateway authorization accepted",
		func(p *entity.Payment) {
			if result.TxnRef != "" {
				p.GatewayTxnRef = &result.TxnRef
			}
			p.LastError = nil
			p.Retryable = false
		})
}

func (ps *PaymentService) failAuthorization(
	ctx context.Context,
	payment *entity.Payment,
	result gateway.Result,
	actor entity.Actor,
) (*entity.Payment, error) {
	reason := result.Reason
	retryable := result.Outcome == gateway.OutcomeTransient

	message := "gateway declined authorization"
	if retryable {
		message = "gateway unavailable, authorization abandoned"
	}

	return ps.applyTransition(ctx, payment, entity.EventAuthorizeDeclined, actor, message,
		func(p *entity.Payment) {
			if result.TxnRef != "" {
				p.GatewayTxnRef = &result.TxnRef
			}
			p.LastError = &reason
			p.Retryable = retryable
		})
}

// CancelPayment voids a pending or processing payment. The gateway void is
// best effort: the provider either never saw the charge or the canceled
// webhook reconciles later.
func (ps *PaymentService) CancelPayment(
	ctx context.Context,
	paymentID uuid.UUID,
	actor entity.Actor,
) (*entity.Payment, error) {
	const op = "service.CancelPayment"
	log := ps.logger.Ctx(ctx)

	payment, err := ps.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: load payment: %w", op, err)
	}

	if !fsm.CanApply(payment.Status, entity.EventCancelRequested) {
		return nil, fmt.Errorf("%s: payment %s is %s: %w",
			op, payment.ID, payment.Status, entity.ErrInvalidState)
	}

	if payment.GatewayTxnRef != nil {
		result, cancelErr := ps.gateway.Cancel(ctx, *payment.GatewayTxnRef, ps.idempotencyKey(payment, "cancel"))
		if cancelErr != nil || result.Outcome == gateway.OutcomeTransient || result.Outcome == gateway.OutcomeFatal {
			log.LogAttrs(ctx, logger.WarnLevel, "gateway void not confirmed, canceling locally",
				logger.String("op", op),
				logger.String("payment_id", payment.ID.String()),
				logger.Any("error", cancelErr),
			)
		}
	}

	return ps.applyTransition(ctx, payment, entity.EventCancelRequested, actor, "payment canceled",
		func(p *entity.Payment) {
			p.Retryable = false
		})
}

// RefundPayment refunds part or all of a completed payment. The amount is
// validated against what remains refundable before the gateway is called.
// A full cumulative refund moves the payment to refunded; a partial one
// leaves it completed with the refunded amount accumulated.
func (ps *PaymentService) RefundPayment(
	ctx context.Context,
	paymentID uuid.UUID,
	amount decimal.Decimal,
	actor entity.Actor,
) (*entity.Payment, error) {
	const op = "service.RefundPayment"

	payment, err := ps.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: load payment: %w", op, err)
	}

	if !fsm.CanApply(payment.Status, entity.EventRefundRequested) {
		return nil, fmt.Errorf("%s: payment %s is %s: %w",
			op, payment.ID, payment.Status, entity.ErrInvalidState)
	}
	if payment.GatewayTxnRef == nil {
		return nil, fmt.Errorf("%s: payment %s has no gateway transaction: %w",
			op, payment.ID, entity.ErrInvalidState)
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%s: non-positive amount: %w", op, entity.ErrInvalidData)
	}
	remaining := payment.Amount.Sub(payment.RefundedAmount)
	if amount.GreaterThan(remaining) {
		return nil, fmt.Errorf("%s: %s exceeds refundable %s: %w",
			op, amount, remaining, entity.ErrRefundExceedsAmount)
	}

	result, err := ps.gateway.Refund(ctx, gateway.RefundRequest{
		TxnRef:         *payment.GatewayTxnRef,
		Amount:         amount,
		IdempotencyKey: ps.idempotencyKey(payment, "refund"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: refund: %w", op, err)
	}

	switch result.Outcome {
	case gateway.OutcomeSucceeded, gateway.OutcomePending:
	case gateway.OutcomeDeclined:
		return nil, fmt.Errorf("%s: %s: %w", op, result.Reason, entity.ErrGatewayDeclined)
	case gateway.OutcomeTransient:
		return nil, fmt.Errorf("%s: %s: %w", op, result.Reason, entity.ErrGatewayTransient)
	default:
		return nil, fmt.Errorf("%s: %s: %w", op, result.Reason, entity.ErrGatewayFatal)
	}

	refunded := payment.RefundedAmount.Add(amount)
	full := refunded.Equal(payment.Amount)

	if full {
		return ps.applyTransition(ctx, payment, entity.EventRefundRequested, actor, "payment refunded in full",
			func(p *entity.Payment) {
				p.RefundedAmount = refunded
			})
	}

	return ps.applyChange(ctx, payment, actor,
		fmt.Sprintf("partial refund of %s %s", amount, payment.Currency),
		entity.EventTypePaymentRefunded,
		func(p *entity.Payment) {
			p.RefundedAmount = refunded
		})
}

// ApplyGatewayEvent folds an asynchronous provider callback into the
// payment it references. The provider event id is claimed in the same
// transaction as the transition, so a redelivery either conflicts there
// or finds the transition already applied.
func (ps *PaymentService) ApplyGatewayEvent(
	ctx context.Context,
	callback entity.GatewayCallback,
) (*entity.Payment, error) {
	const op = "service.ApplyGatewayEvent"

	event, err := callbackEvent(callback.Type)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payment, err := ps.paymentRepo.GetByTxnRef(ctx, callback.TxnRef)
	if err != nil {
		return nil, fmt.Errorf("%s: locate by txn ref %q: %w", op, callback.TxnRef, err)
	}

	seen, err := ps.webhookRepo.Seen(ctx, callback.ProviderEventID)
	if err != nil {
		return nil, fmt.Errorf("%s: dedup pre-check: %w", op, err)
	}
	if seen {
		return nil, fmt.Errorf("%s: event %s: %w", op, callback.ProviderEventID, entity.ErrConflictingData)
	}

	if event == entity.EventRefundRequested {
		return ps.applyRefundCallback(ctx, payment, callback)
	}

	target, err := fsm.Next(payment.Status, event)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reason := callback.Reason
	mutate := func(p *entity.Payment) {
		if event == entity.EventGatewayFailed {
			p.LastError = &reason
			p.Retryable = false
		}
	}

	updated := ps.mutated(payment, target, mutate)
	metadata, _ := json.Marshal(map[string]string{
		"provider_event_id": callback.ProviderEventID,
		"callback_type":     callback.Type,
	})

	err = ps.txManager.ExecuteInTransaction(ctx, "ApplyGatewayEvent", func(tx postgres.QueryExecuter) error {
		if txErr := ps.webhookRepo.Record(ctx, tx,
			callback.ProviderEventID, payment.ID, callback.Type); txErr != nil {
			return txErr
		}
		return ps.persistTransition(ctx, tx, payment, updated,
			fmt.Sprintf("gateway callback %s", callback.Type),
			entity.Actor{Type: entity.ActorWebhook}, metadata)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// applyRefundCallback reconciles a charge.refunded callback. The callback
// amount is the provider's cumulative refunded total, so a callback echoing
// a refund this service issued itself reports a total already reflected
// locally and is absorbed. A total above the local one raises
// RefundedAmount to it; only a total equal to the full payment amount moves
// the payment to refunded.
func (ps *PaymentService) applyRefundCallback(
	ctx context.Context,
	payment *entity.Payment,
	callback entity.GatewayCallback,
) (*entity.Payment, error) {
	const op = "service.applyRefundCallback"

	reported := payment.Amount
	if callback.Amount != nil {
		reported = *callback.Amount
	}

	if reported.LessThanOrEqual(decimal.Zero) || reported.GreaterThan(payment.Amount) {
		return nil, fmt.Errorf("%s: reported refund %s outside (0, %s]: %w",
			op, reported, payment.Amount, entity.ErrInvalidData)
	}
	if reported.LessThanOrEqual(payment.RefundedAmount) {
		return nil, fmt.Errorf("%s: refund total %s already reflected: %w",
			op, reported, entity.ErrConflictingData)
	}

	target, err := fsm.Next(payment.Status, entity.EventRefundRequested)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	full := reported.Equal(payment.Amount)
	if !full {
		target = payment.Status
	}

	updated := ps.mutated(payment, target, func(p *entity.Payment) {
		p.RefundedAmount = reported
	})

	metadata, _ := json.Marshal(map[string]string{
		"provider_event_id": callback.ProviderEventID,
		"callback_type":     callback.Type,
	})
	message := "gateway reported partial refund"
	if full {
		message = "gateway reported full refund"
	}

	err = ps.txManager.ExecuteInTransaction(ctx, "ApplyGatewayEvent", func(tx postgres.QueryExecuter) error {
		if txErr := ps.webhookRepo.Record(ctx, tx,
			callback.ProviderEventID, payment.ID, callback.Type); txErr != nil {
			return txErr
		}

		if full {
			return ps.persistTransition(ctx, tx, payment, updated, message,
				entity.Actor{Type: entity.ActorWebhook}, metadata)
		}

		if txErr := ps.paymentRepo.UpdateStatus(ctx, tx, updated, payment.Version); txErr != nil {
			return txErr
		}
		prev := payment.Status
		if _, txErr := ps.auditRepo.Append(ctx, tx,
			ps.auditEntry(updated, &prev, message, entity.Actor{Type: entity.ActorWebhook}, metadata)); txErr != nil {
			return txErr
		}
		return ps.appendEvent(ctx, tx, updated, entity.EventTypePaymentRefunded)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (ps *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	const op = "service.GetPayment"

	payment, err := ps.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payment, nil
}

func (ps *PaymentService) GetPaymentsByUser(
	ctx context.Context,
	userRef uuid.UUID,
	limit, offset uint64,
) ([]entity.Payment, error) {
	const op = "service.GetPaymentsByUser"

	payments, err := ps.paymentRepo.GetByUser(ctx, userRef, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payments, nil
}

func (ps *PaymentService) GetAuditTrail(
	ctx context.Context,
	paymentID uuid.UUID,
	limit, offset uint64,
) ([]entity.AuditEntry, error) {
	const op = "service.GetAuditTrail"

	if _, err := ps.paymentRepo.GetByID(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entries, err := ps.auditRepo.ListByPayment(ctx, paymentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

// AuditByTimeRange serves operator queries over the whole trail.
func (ps *PaymentService) AuditByTimeRange(
	ctx context.Context,
	from, to time.Time,
	limit, offset uint64,
) ([]entity.AuditEntry, error) {
	const op = "service.AuditByTimeRange"

	if !to.After(from) {
		return nil, fmt.Errorf("%s: empty time range: %w", op, entity.ErrInvalidData)
	}

	entries, err := ps.auditRepo.ListByTimeRange(ctx, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

func (ps *PaymentService) AuditByActor(
	ctx context.Context,
	actorType entity.ActorType,
	limit, offset uint64,
) ([]entity.AuditEntry, error) {
	const op = "service.AuditByActor"

	switch actorType {
	case entity.ActorSystem, entity.ActorWebhook, entity.ActorUser, entity.ActorAdmin:
	default:
		return nil, fmt.Errorf("%s: unknown actor type %q: %w", op, actorType, entity.ErrInvalidData)
	}

	entries, err := ps.auditRepo.ListByActor(ctx, actorType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

func (ps *PaymentService) AddMethod(
	ctx context.Context,
	method *entity.PaymentMethod,
) (*entity.PaymentMethod, error) {
	const op = "service.AddMethod"

	method.ID = uuid.New()

	var created *entity.PaymentMethod
	err := ps.txManager.ExecuteInTransaction(ctx, "AddMethod", func(tx postgres.QueryExecuter) error {
		var txErr error
		created, txErr = ps.methodRepo.Create(ctx, tx, method)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return created, nil
}

func (ps *PaymentService) ListMethods(
	ctx context.Context,
	userRef uuid.UUID,
) ([]entity.PaymentMethod, error) {
	const op = "service.ListMethods"

	methods, err := ps.methodRepo.ListByUser(ctx, userRef)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return methods, nil
}

func (ps *PaymentService) SetDefaultMethod(ctx context.Context, userRef, methodID uuid.UUID) error {
	const op = "service.SetDefaultMethod"

	err := ps.txManager.ExecuteInTransaction(ctx, "SetDefaultMethod", func(tx postgres.QueryExecuter) error {
		return ps.methodRepo.SetDefault(ctx, tx, userRef, methodID)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (ps *PaymentService) DeleteMethod(ctx context.Context, userRef, methodID uuid.UUID) error {
	const op = "service.DeleteMethod"

	if err := ps.methodRepo.Delete(ctx, userRef, methodID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OutboxStats reports entry counts per delivery status.
func (ps *PaymentService) OutboxStats(ctx context.Context) (map[entity.OutboxStatus]int64, error) {
	const op = "service.OutboxStats"

	counts, err := ps.outboxRepo.CountsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return counts, nil
}

// RequeueOutboxEntry puts one failed entry back in the relay's pool.
func (ps *PaymentService) RequeueOutboxEntry(ctx context.Context, id uuid.UUID) error {
	const op = "service.RequeueOutboxEntry"

	if err := ps.outboxRepo.Requeue(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (ps *PaymentService) RequeueFailedEntries(ctx context.Context) (int64, error) {
	const op = "service.RequeueFailedEntries"

	count, err := ps.outboxRepo.RequeueAllFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// applyTransition moves payment through the state machine and persists the
// new state, its audit entry, and the outbound event in one transaction.
func (ps *PaymentService) applyTransition(
	ctx context.Context,
	payment *entity.Payment,
	event entity.PaymentEvent,
	actor entity.Actor,
	message string,
	mutate func(*entity.Payment),
) (*entity.Payment, error) {
	const op = "service.applyTransition"

	target, err := fsm.Next(payment.Status, event)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated := ps.mutated(payment, target, mutate)

	err = ps.txManager.ExecuteInTransaction(ctx, "applyTransition", func(tx postgres.QueryExecuter) error {
		return ps.persistTransition(ctx, tx, payment, updated, message, actor, nil)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// applyChange persists a mutation that does not move the status, such as a
// partial refund. The audit entry keeps the trail complete and the event
// still goes out through the outbox.
func (ps *PaymentService) applyChange(
	ctx context.Context,
	payment *entity.Payment,
	actor entity.Actor,
	message string,
	eventType string,
	mutate func(*entity.Payment),
) (*entity.Payment, error) {
	updated := ps.mutated(payment, payment.Status, mutate)

	err := ps.txManager.ExecuteInTransaction(ctx, "applyChange", func(tx postgres.QueryExecuter) error {
		if txErr := ps.paymentRepo.UpdateStatus(ctx, tx, updated, payment.Version); txErr != nil {
			return txErr
		}

		prev := payment.Status
		if _, txErr := ps.auditRepo.Append(ctx, tx,
			ps.auditEntry(updated, &prev, message, actor, nil)); txErr != nil {
			return txErr
		}

		return ps.appendEvent(ctx, tx, updated, eventType)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (ps *PaymentService) persistTransition(
	ctx context.Context,
	tx postgres.QueryExecuter,
	previous, updated *entity.Payment,
	message string,
	actor entity.Actor,
	metadata json.RawMessage,
) error {
	if err := ps.paymentRepo.UpdateStatus(ctx, tx, updated, previous.Version); err != nil {
		return err
	}

	prev := previous.Status
	if _, err := ps.auditRepo.Append(ctx, tx,
		ps.auditEntry(updated, &prev, message, actor, metadata)); err != nil {
		return err
	}

	if eventType, ok := publishedEventType(updated.Status); ok {
		return ps.appendEvent(ctx, tx, updated, eventType)
	}
	return nil
}

func (ps *PaymentService) appendEvent(
	ctx context.Context,
	tx postgres.QueryExecuter,
	payment *entity.Payment,
	eventType string,
) error {
	payload := entity.PaymentEventPayload{
		EventID:    uuid.New(),
		PaymentID:  payment.ID,
		OrderRef:   payment.OrderRef,
		UserRef:    payment.UserRef,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Status:     payment.Status,
		OccurredAt: ps.clock.Now().UTC(),
	}
	if payment.RefundedAmount.IsPositive() {
		refunded := payment.RefundedAmount
		payload.RefundedAmount = &refunded
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = ps.outboxRepo.Append(ctx, tx, &entity.OutboxEntry{
		ID:            uuid.New(),
		AggregateType: _aggregatePayment,
		AggregateID:   payment.ID,
		EventType:     eventType,
		Topic:         ps.eventTopic,
		RoutingKey:    payment.ID.String(),
		Payload:       raw,
	})
	return err
}

// mutated clones payment with the target status applied so the caller
// keeps the previously read version for the optimistic check.
func (ps *PaymentService) mutated(
	payment *entity.Payment,
	target entity.PaymentStatus,
	mutate func(*entity.Payment),
) *entity.Payment {
	updated := *payment
	updated.Status = target
	if mutate != nil {
		mutate(&updated)
	}

	if target == entity.StatusCompleted && updated.CompletedAt == nil {
		now := ps.clock.Now().UTC()
		updated.CompletedAt = &now
	}

	return &updated
}

func (ps *PaymentService) auditEntry(
	payment *entity.Payment,
	previous *entity.PaymentStatus,
	message string,
	actor entity.Actor,
	metadata json.RawMessage,
) *entity.AuditEntry {
	return &entity.AuditEntry{
		ID:             uuid.New(),
		PaymentID:      payment.ID,
		PreviousStatus: previous,
		NewStatus:      payment.Status,
		Message:        message,
		Actor:          actor,
		Metadata:       metadata,
	}
}

// idempotencyKey derives a stable key from the payment identity, the
// operation, and the version the caller read. Wire-level retries and
// concurrent attempts over the same state collapse to one provider
// operation.
func (ps *PaymentService) idempotencyKey(payment *entity.Payment, operation string) string {
	data := fmt.Sprintf("%s:%d", operation, payment.Version)
	return uuid.NewSHA1(payment.ID, []byte(data)).String()
}

func (ps *PaymentService) resolveMethodToken(
	ctx context.Context,
	payment *entity.Payment,
) (string, error) {
	if payment.MethodRef == nil {
		return "", fmt.Errorf("payment has no method: %w", entity.ErrInvalidData)
	}

	method, err := ps.methodRepo.GetByID(ctx, *payment.MethodRef)
	if err != nil {
		return "", fmt.Errorf("load method: %w", err)
	}
	if method.UserRef != payment.UserRef {
		return "", fmt.Errorf("method does not belong to payer: %w", entity.ErrInvalidData)
	}
	if method.ExpiresAt != nil && method.ExpiresAt.Before(ps.clock.Now()) {
		return "", fmt.Errorf("method expired: %w", entity.ErrInvalidData)
	}

	return method.ProviderToken, nil
}

func (ps *PaymentService) validateCreateInput(ctx context.Context, input CreatePaymentInput) error {
	if input.OrderRef == uuid.Nil || input.UserRef == uuid.Nil {
		return entity.ErrInvalidData
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("non-positive amount: %w", entity.ErrInvalidData)
	}
	if len(input.Currency) != 3 {
		return fmt.Errorf("bad currency %q: %w", input.Currency, entity.ErrInvalidData)
	}

	if input.MethodID != nil {
		method, err := ps.methodRepo.GetByID(ctx, *input.MethodID)
		if err != nil {
			return fmt.Errorf("load method: %w", err)
		}
		if method.UserRef != input.UserRef {
			return fmt.Errorf("method does not belong to payer: %w", entity.ErrInvalidData)
		}
	}

	return nil
}

func callbackEvent(callbackType string) (entity.PaymentEvent, error) {
	switch callbackType {
	case entity.CallbackPaymentSucceeded:
		return entity.EventGatewayConfirmed, nil
	case entity.CallbackPaymentFailed:
		return entity.EventGatewayFailed, nil
	case entity.CallbackPaymentCanceled:
		return entity.EventCancelRequested, nil
	case entity.CallbackChargeRefunded:
		return entity.EventRefundRequested, nil
	default:
		return "", fmt.Errorf("unknown callback type %q: %w", callbackType, entity.ErrInvalidData)
	}
}

// publishedEventType maps a reached status to the event consumers see.
// Pending and processing are internal states and publish nothing.
func publishedEventType(status entity.PaymentStatus) (string, bool) {
	switch status {
	case entity.StatusCompleted:
		return entity.EventTypePaymentCompleted, true
	case entity.StatusFailed:
		return entity.EventTypePaymentFailed, true
	case entity.StatusCanceled:
		return entity.EventTypePaymentCanceled, true
	case entity.StatusRefunded:
		return entity.EventTypePaymentRefunded, true
	default:
		return "", false
	}
}
