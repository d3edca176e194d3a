package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"paycore/internal/entity"
	"paycore/internal/gateway"
	"paycore/internal/service"
	"paycore/pkg/clock"
	"paycore/pkg/logger"
	"paycore/pkg/storage/postgres"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testTopic = "payments.events"

// In-memory fakes behind the service's repository interfaces. They honor
// the same contracts the postgres implementations do: copy semantics,
// ErrDataNotFound, the optimistic version check, and unique claims.

type paymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]entity.Payment
}

func newPaymentStore() *paymentStore {
	return &paymentStore{payments: make(map[uuid.UUID]entity.Payment)}
}

func (s *paymentStore) Create(
	_ context.Context,
	_ postgres.QueryExecuter,
	payment *entity.Payment,
) (*entity.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.OrderRef == payment.OrderRef && p.Status != entity.StatusFailed && p.Status != entity.StatusCanceled && p.Status != entity.StatusRefunded {
			return nil, entity.ErrDuplicateOrder
		}
	}

	stored := *payment
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.payments[stored.ID] = stored

	result := stored
	return &result, nil
}

func (s *paymentStore) GetByID(_ context.Context, id uuid.UUID) (*entity.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.payments[id]
	if !ok {
		return nil, entity.ErrDataNotFound
	}
	result := stored
	return &result, nil
}

func (s *paymentStore) GetActiveByOrderRef(_ context.Context, orderRef uuid.UUID) (*entity.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.OrderRef == orderRef &&
			p.Status != entity.StatusFailed &&
			p.Status != entity.StatusCanceled &&
			p.Status != entity.StatusRefunded {
			result := p
			return &result, nil
		}
	}
	return nil, entity.ErrDataNotFound
}

func (s *paymentStore) GetByTxnRef(_ context.Context, txnRef string) (*entity.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.GatewayTxnRef != nil && *p.GatewayTxnRef == txnRef {
			result := p
			return &result, nil
		}
	}
	return nil, entity.ErrDataNotFound
}

func (s *paymentStore) GetByUser(
	_ context.Context,
	userRef uuid.UUID,
	_, _ uint64,
) ([]entity.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []entity.Payment
	for _, p := range s.payments {
		if p.UserRef == userRef {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *paymentStore) UpdateStatus(
	_ context.Context,
	_ postgres.QueryExecuter,
	payment *entity.Payment,
	expectedVersion int64,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.payments[payment.ID]
	if !ok || stored.Version != expectedVersion {
		return entity.ErrConcurrentModification
	}

	updated := *payment
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()
	s.payments[payment.ID] = updated
	payment.Version = updated.Version

	return nil
}

// bumpVersion simulates a concurrent writer committing between a read and
// the version-checked update.
func (s *paymentStore) bumpVersion(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.payments[id]
	stored.Version++
	s.payments[id] = stored
}

type methodStore struct {
	methods map[uuid.UUID]entity.PaymentMethod
}

func newMethodStore() *methodStore {
	return &methodStore{methods: make(map[uuid.UUID]entity.PaymentMethod)}
}

func (s *methodStore) Create(
	_ context.Context,
	_ postgres.QueryExecuter,
	method *entity.PaymentMethod,
) (*entity.PaymentMethod, error) {
	stored := *method
	stored.CreatedAt = time.Now()
	s.methods[stored.ID] = stored
	result := stored
	return &result, nil
}

func (s *methodStore) GetByID(_ context.Context, id uuid.UUID) (*entity.PaymentMethod, error) {
	stored, ok := s.methods[id]
	if !ok {
		return nil, entity.ErrDataNotFound
	}
	result := stored
	return &result, nil
}

func (s *methodStore) ListByUser(_ context.Context, userRef uuid.UUID) ([]entity.PaymentMethod, error) {
	var result []entity.PaymentMethod
	for _, m := range s.methods {
		if m.UserRef == userRef {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *methodStore) SetDefault(
	_ context.Context,
	_ postgres.QueryExecuter,
	userRef, methodID uuid.UUID,
) error {
	target, ok := s.methods[methodID]
	if !ok || target.UserRef != userRef {
		return entity.ErrDataNotFound
	}
	for id, m := range s.methods {
		if m.UserRef == userRef {
			m.IsDefault = id == methodID
			s.methods[id] = m
		}
	}
	return nil
}

func (s *methodStore) Delete(_ context.Context, userRef, methodID uuid.UUID) error {
	target, ok := s.methods[methodID]
	if !ok || target.UserRef != userRef {
		return entity.ErrDataNotFound
	}
	delete(s.methods, methodID)
	return nil
}

type outboxStore struct {
	entries []entity.OutboxEntry
}

func (s *outboxStore) Append(
	_ context.Context,
	_ postgres.QueryExecuter,
	entry *entity.OutboxEntry,
) (*entity.OutboxEntry, error) {
	stored := *entry
	stored.Status = entity.OutboxPending
	stored.CreatedAt = time.Now()
	s.entries = append(s.entries, stored)
	result := stored
	return &result, nil
}

func (s *outboxStore) GetByID(_ context.Context, id uuid.UUID) (*entity.OutboxEntry, error) {
	for _, e := range s.entries {
		if e.ID == id {
			result := e
			return &result, nil
		}
	}
	return nil, entity.ErrDataNotFound
}

func (s *outboxStore) CountsByStatus(context.Context) (map[entity.OutboxStatus]int64, error) {
	counts := make(map[entity.OutboxStatus]int64)
	for _, e := range s.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func (s *outboxStore) Requeue(_ context.Context, id uuid.UUID) error {
	for i, e := range s.entries {
		if e.ID == id && e.Status == entity.OutboxFailed {
			s.entries[i].Status = entity.OutboxPending
			s.entries[i].RetryCount = 0
			return nil
		}
	}
	return entity.ErrDataNotFound
}

func (s *outboxStore) RequeueAllFailed(context.Context) (int64, error) {
	var count int64
	for i, e := range s.entries {
		if e.Status == entity.OutboxFailed {
			s.entries[i].Status = entity.OutboxPending
			s.entries[i].RetryCount = 0
			count++
		}
	}
	return count, nil
}

type auditStore struct {
	entries []entity.AuditEntry
}

func (s *auditStore) Append(
	_ context.Context,
	_ postgres.QueryExecuter,
	entry *entity.AuditEntry,
) (*entity.AuditEntry, error) {
	stored := *entry
	stored.CreatedAt = time.Now()
	s.entries = append(s.entries, stored)
	result := stored
	return &result, nil
}

func (s *auditStore) ListByPayment(
	_ context.Context,
	paymentID uuid.UUID,
	_, _ uint64,
) ([]entity.AuditEntry, error) {
	var result []entity.AuditEntry
	for _, e := range s.entries {
		if e.PaymentID == paymentID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *auditStore) ListByTimeRange(
	_ context.Context,
	from, to time.Time,
	_, _ uint64,
) ([]entity.AuditEntry, error) {
	var result []entity.AuditEntry
	for _, e := range s.entries {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *auditStore) ListByActor(
	_ context.Context,
	actorType entity.ActorType,
	_, _ uint64,
) ([]entity.AuditEntry, error) {
	var result []entity.AuditEntry
	for _, e := range s.entries {
		if e.Actor.Type == actorType {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *auditStore) byPayment(paymentID uuid.UUID) []entity.AuditEntry {
	result, _ := s.ListByPayment(context.Background(), paymentID, 0, 0)
	return result
}

type webhookStore struct {
	seen map[string]uuid.UUID
}

func newWebhookStore() *webhookStore {
	return &webhookStore{seen: make(map[string]uuid.UUID)}
}

func (s *webhookStore) Record(
	_ context.Context,
	_ postgres.QueryExecuter,
	providerEventID string,
	paymentID uuid.UUID,
	_ string,
) error {
	if _, ok := s.seen[providerEventID]; ok {
		return entity.ErrConflictingData
	}
	s.seen[providerEventID] = paymentID
	return nil
}

func (s *webhookStore) Seen(_ context.Context, providerEventID string) (bool, error) {
	_, ok := s.seen[providerEventID]
	return ok, nil
}

type fakeTxManager struct{}

func (fakeTxManager) ExecuteInTransaction(
	_ context.Context,
	_ string,
	fn func(tx postgres.QueryExecuter) error,
) error {
	return fn(nil)
}

// fakeGateway answers each operation from a script and records the
// requests it received.
type fakeGateway struct {
	authorizeResults []gateway.Result
	refundResults    []gateway.Result
	cancelResults    []gateway.Result

	authorizeReqs []gateway.AuthorizeRequest
	refundReqs    []gateway.RefundRequest
	cancelCalls   int

	beforeAuthorizeReturn func()
}

func (g *fakeGateway) Authorize(_ context.Context, req gateway.AuthorizeRequest) (gateway.Result, error) {
	g.authorizeReqs = append(g.authorizeReqs, req)
	result := g.authorizeResults[len(g.authorizeReqs)-1]
	if g.beforeAuthorizeReturn != nil {
		g.beforeAuthorizeReturn()
	}
	return result, nil
}

func (g *fakeGateway) Confirm(context.Context, string, string) (gateway.Result, error) {
	return gateway.Result{Outcome: gateway.OutcomeSucceeded}, nil
}

func (g *fakeGateway) Cancel(context.Context, string, string) (gateway.Result, error) {
	g.cancelCalls++
	if len(g.cancelResults) >= g.cancelCalls {
		return g.cancelResults[g.cancelCalls-1], nil
	}
	return gateway.Result{Outcome: gateway.OutcomeSucceeded}, nil
}

func (g *fakeGateway) Refund(_ context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	g.refundReqs = append(g.refundReqs, req)
	return g.refundResults[len(g.refundReqs)-1], nil
}

type fixture struct {
	service  *service.PaymentService
	payments *paymentStore
	methods  *methodStore
	outbox   *outboxStore
	audit    *auditStore
	webhooks *webhookStore
	gateway  *fakeGateway
	clock    *clock.Fake

	userRef  uuid.UUID
	methodID uuid.UUID
}

func newFixture(gw *fakeGateway) *fixture {
	f := &fixture{
		payments: newPaymentStore(),
		methods:  newMethodStore(),
		outbox:   &outboxStore{},
		audit:    &auditStore{},
		webhooks: newWebhookStore(),
		gateway:  gw,
		clock:    clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		userRef:  uuid.New(),
		methodID: uuid.New(),
	}

	f.methods.methods[f.methodID] = entity.PaymentMethod{
		ID:            f.methodID,
		UserRef:       f.userRef,
		Type:          entity.MethodCard,
		ProviderToken: gofakeit.UUID(),
		MaskedID:      "**** 4242",
		IsDefault:     true,
	}

	f.service = service.NewPaymentService(
		f.payments, f.methods, f.outbox, f.audit, f.webhooks,
		fakeTxManager{}, gw, f.clock, logger.NewNop(), testTopic,
	)
	return f
}

func (f *fixture) createPayment(t *testing.T, amount string) *entity.Payment {
	t.Helper()

	payment, err := f.service.CreatePayment(context.Background(), service.CreatePaymentInput{
		OrderRef: uuid.New(),
		UserRef:  f.userRef,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		MethodID: &f.methodID,
	})
	require.NoError(t, err)
	return payment
}

func (f *fixture) completedPayment(t *testing.T, amount string) *entity.Payment {
	t.Helper()

	payment := f.createPayment(t, amount)
	processed, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, processed.Status)
	return processed
}

func (f *fixture) outboxEventTypes() []string {
	var types []string
	for _, e := range f.outbox.entries {
		types = append(types, e.EventType)
	}
	return types
}

func TestPaymentService_CreatePayment(t *testing.T) {
	f := newFixture(&fakeGateway{})

	payment := f.createPayment(t, "100.00")

	require.Equal(t, entity.StatusPending, payment.Status)
	require.Equal(t, int64(1), payment.Version)
	require.True(t, payment.RefundedAmount.IsZero())

	trail := f.audit.byPayment(payment.ID)
	require.Len(t, trail, 1)
	require.Nil(t, trail[0].PreviousStatus)
	require.Equal(t, entity.StatusPending, trail[0].NewStatus)
	require.Equal(t, entity.ActorUser, trail[0].Actor.Type)

	// No consumer-visible event until the payment reaches an outcome.
	require.Empty(t, f.outbox.entries)
}

func TestPaymentService_CreatePayment_DuplicateOrder(t *testing.T) {
	f := newFixture(&fakeGateway{})
	payment := f.createPayment(t, "100.00")

	_, err := f.service.CreatePayment(context.Background(), service.CreatePaymentInput{
		OrderRef: payment.OrderRef,
		UserRef:  f.userRef,
		Amount:   decimal.RequireFromString("50.00"),
		Currency: "USD",
		MethodID: &f.methodID,
	})
	require.ErrorIs(t, err, entity.ErrDuplicateOrder)
}

func TestPaymentService_CreatePayment_RejectsBadInput(t *testing.T) {
	f := newFixture(&fakeGateway{})

	_, err := f.service.CreatePayment(context.Background(), service.CreatePaymentInput{
		OrderRef: uuid.New(),
		UserRef:  f.userRef,
		Amount:   decimal.RequireFromString("-5.00"),
		Currency: "USD",
	})
	require.ErrorIs(t, err, entity.ErrInvalidData)

	_, err = f.service.CreatePayment(context.Background(), service.CreatePaymentInput{
		OrderRef: uuid.New(),
		UserRef:  f.userRef,
		Amount:   decimal.RequireFromString("5.00"),
		Currency: "DOLLARS",
	})
	require.ErrorIs(t, err, entity.ErrInvalidData)
}

func TestPaymentService_ProcessPayment_Succeeds(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_100"},
	}})
	payment := f.createPayment(t, "100.00")

	processed, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})

	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, processed.Status)
	require.Equal(t, int64(2), processed.Version)
	require.NotNil(t, processed.GatewayTxnRef)
	require.Equal(t, "txn_100", *processed.GatewayTxnRef)
	require.NotNil(t, processed.CompletedAt)
	require.Equal(t, f.clock.Now().UTC(), *processed.CompletedAt)

	// The authorization carries a key derived from payment id, operation,
	// and the version that was read, so replays reuse it.
	require.Len(t, f.gateway.authorizeReqs, 1)
	wantKey := uuid.NewSHA1(payment.ID, []byte("authorize:1")).String()
	require.Equal(t, wantKey, f.gateway.authorizeReqs[0].IdempotencyKey)

	trail := f.audit.byPayment(payment.ID)
	require.Len(t, trail, 2)
	require.Equal(t, entity.StatusCompleted, trail[1].NewStatus)

	require.Equal(t, []string{entity.EventTypePaymentCompleted}, f.outboxEventTypes())
	require.Equal(t, payment.ID.String(), f.outbox.entries[0].RoutingKey)
	require.Equal(t, testTopic, f.outbox.entries[0].Topic)
}

func TestPaymentService_ProcessPayment_DeclineIsFinal(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomeDeclined, Reason: "insufficient_funds"},
	}})
	payment := f.createPayment(t, "100.00")

	processed, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})

	require.NoError(t, err)
	require.Equal(t, entity.StatusFailed, processed.Status)
	require.False(t, processed.Retryable)
	require.NotNil(t, processed.LastError)
	require.Equal(t, "insufficient_funds", *processed.LastError)
	require.Equal(t, []string{entity.EventTypePaymentFailed}, f.outboxEventTypes())
}

func TestPaymentService_ProcessPayment_TransientExhaustionIsRetryable(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomeTransient, Reason: "gateway timeout"},
	}})
	payment := f.createPayment(t, "100.00")

	processed, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})

	require.NoError(t, err)
	require.Equal(t, entity.StatusFailed, processed.Status)
	require.True(t, processed.Retryable)
}

func TestPaymentService_ProcessPayment_RejectsWrongState(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"},
	}})
	payment := f.completedPayment(t, "100.00")

	_, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})
	require.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestPaymentService_ProcessPayment_ConcurrentWriterLoses(t *testing.T) {
	gw := &fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"},
	}}
	f := newFixture(gw)
	payment := f.createPayment(t, "100.00")

	// Another writer commits while the gateway call is in flight. The
	// version-checked update must lose instead of silently overwriting.
	gw.beforeAuthorizeReturn = func() {
		f.payments.bumpVersion(payment.ID)
	}

	_, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})
	require.ErrorIs(t, err, entity.ErrConcurrentModification)
}

func TestPaymentService_CancelPayment(t *testing.T) {
	f := newFixture(&fakeGateway{})
	payment := f.createPayment(t, "100.00")

	canceled, err := f.service.CancelPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorUser, ID: &f.userRef})

	require.NoError(t, err)
	require.Equal(t, entity.StatusCanceled, canceled.Status)
	// No gateway transaction existed, so nothing to void.
	require.Zero(t, f.gateway.cancelCalls)
	require.Equal(t, []string{entity.EventTypePaymentCanceled}, f.outboxEventTypes())
}

func TestPaymentService_CancelPayment_RejectsTerminal(t *testing.T) {
	f := newFixture(&fakeGateway{})
	payment := f.createPayment(t, "100.00")

	_, err := f.service.CancelPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorUser})
	require.NoError(t, err)

	_, err = f.service.CancelPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorUser})
	require.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestPaymentService_RefundPayment_Partial(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
		refundResults:    []gateway.Result{{Outcome: gateway.OutcomeSucceeded}},
	})
	payment := f.completedPayment(t, "100.00")

	refunded, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("40.00"), entity.Actor{Type: entity.ActorAdmin})

	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, refunded.Status)
	require.True(t, refunded.RefundedAmount.Equal(decimal.RequireFromString("40.00")))

	require.Len(t, f.gateway.refundReqs, 1)
	require.True(t, f.gateway.refundReqs[0].Amount.Equal(decimal.RequireFromString("40.00")))

	trail := f.audit.byPayment(payment.ID)
	require.Contains(t, trail[len(trail)-1].Message, "partial refund")
	require.Equal(t, entity.StatusCompleted, trail[len(trail)-1].NewStatus)
	require.Equal(t,
		[]string{entity.EventTypePaymentCompleted, entity.EventTypePaymentRefunded},
		f.outboxEventTypes())
}

func TestPaymentService_RefundPayment_FullMovesToRefunded(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
		refundResults: []gateway.Result{
			{Outcome: gateway.OutcomeSucceeded},
			{Outcome: gateway.OutcomeSucceeded},
		},
	})
	payment := f.completedPayment(t, "100.00")

	_, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("40.00"), entity.Actor{Type: entity.ActorAdmin})
	require.NoError(t, err)

	refunded, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("60.00"), entity.Actor{Type: entity.ActorAdmin})

	require.NoError(t, err)
	require.Equal(t, entity.StatusRefunded, refunded.Status)
	require.True(t, refunded.RefundedAmount.Equal(payment.Amount))
}

func TestPaymentService_RefundPayment_RejectsExcessBeforeGateway(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
		refundResults:    []gateway.Result{{Outcome: gateway.OutcomeSucceeded}},
	})
	payment := f.completedPayment(t, "100.00")

	_, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("40.00"), entity.Actor{Type: entity.ActorAdmin})
	require.NoError(t, err)

	_, err = f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("70.00"), entity.Actor{Type: entity.ActorAdmin})

	require.ErrorIs(t, err, entity.ErrRefundExceedsAmount)
	// The rejected refund never reached the provider.
	require.Len(t, f.gateway.refundReqs, 1)
}

func TestPaymentService_RefundPayment_DeclinedLeavesStateUntouched(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
		refundResults:    []gateway.Result{{Outcome: gateway.OutcomeDeclined, Reason: "too_late"}},
	})
	payment := f.completedPayment(t, "100.00")

	_, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("40.00"), entity.Actor{Type: entity.ActorAdmin})
	require.ErrorIs(t, err, entity.ErrGatewayDeclined)

	current, err := f.service.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, current.Status)
	require.True(t, current.RefundedAmount.IsZero())
}

func TestPaymentService_ApplyGatewayEvent_ConfirmsProcessing(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomePending, TxnRef: "txn_async"},
	}})
	payment := f.createPayment(t, "100.00")

	processed, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})
	require.NoError(t, err)
	require.Equal(t, entity.StatusProcessing, processed.Status)

	confirmed, err := f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_1",
		TxnRef:          "txn_async",
		Type:            entity.CallbackPaymentSucceeded,
	})

	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, confirmed.Status)
	require.Equal(t, entity.ActorWebhook, f.audit.byPayment(payment.ID)[2].Actor.Type)
	require.Equal(t, []string{entity.EventTypePaymentCompleted}, f.outboxEventTypes())
}

func TestPaymentService_ApplyGatewayEvent_DuplicateEventID(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomePending, TxnRef: "txn_async"},
	}})
	payment := f.createPayment(t, "100.00")
	_, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})
	require.NoError(t, err)

	callback := entity.GatewayCallback{
		ProviderEventID: "evt_1",
		TxnRef:          "txn_async",
		Type:            entity.CallbackPaymentSucceeded,
	}

	_, err = f.service.ApplyGatewayEvent(context.Background(), callback)
	require.NoError(t, err)

	_, err = f.service.ApplyGatewayEvent(context.Background(), callback)
	require.ErrorIs(t, err, entity.ErrConflictingData)

	// The transition applied exactly once.
	require.Equal(t, []string{entity.EventTypePaymentCompleted}, f.outboxEventTypes())
}

func TestPaymentService_ApplyGatewayEvent_ReplayedTransition(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomePending, TxnRef: "txn_async"},
	}})
	payment := f.createPayment(t, "100.00")
	_, err := f.service.ProcessPayment(context.Background(), payment.ID,
		entity.Actor{Type: entity.ActorSystem})
	require.NoError(t, err)

	_, err = f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_1",
		TxnRef:          "txn_async",
		Type:            entity.CallbackPaymentSucceeded,
	})
	require.NoError(t, err)

	// Same fact under a fresh event id: the state machine rejects the
	// repeat, which callers treat as already-applied.
	_, err = f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_2",
		TxnRef:          "txn_async",
		Type:            entity.CallbackPaymentSucceeded,
	})
	require.ErrorIs(t, err, entity.ErrInvalidTransition)
}

func TestPaymentService_ApplyGatewayEvent_UnknownReference(t *testing.T) {
	f := newFixture(&fakeGateway{})

	_, err := f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_1",
		TxnRef:          "txn_unknown",
		Type:            entity.CallbackPaymentSucceeded,
	})
	require.ErrorIs(t, err, entity.ErrDataNotFound)
}

func TestPaymentService_AuditByActor(t *testing.T) {
	f := newFixture(&fakeGateway{authorizeResults: []gateway.Result{
		{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"},
	}})

	f.completedPayment(t, "100.00")

	system, err := f.service.AuditByActor(context.Background(), entity.ActorSystem, 50, 0)
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Equal(t, entity.StatusCompleted, system[0].NewStatus)

	users, err := f.service.AuditByActor(context.Background(), entity.ActorUser, 50, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)

	_, err = f.service.AuditByActor(context.Background(), entity.ActorType("ROBOT"), 50, 0)
	require.ErrorIs(t, err, entity.ErrInvalidData)
}

func TestPaymentService_AuditByTimeRange_RejectsEmptyWindow(t *testing.T) {
	f := newFixture(&fakeGateway{})

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.service.AuditByTimeRange(context.Background(), at, at, 50, 0)
	require.ErrorIs(t, err, entity.ErrInvalidData)
}

func TestPaymentService_ApplyGatewayEvent_AbsorbsRefundEcho(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
		refundResults:    []gateway.Result{{Outcome: gateway.OutcomeSucceeded}},
	})
	payment := f.completedPayment(t, "100.00")

	_, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("40.00"), entity.Actor{Type: entity.ActorAdmin})
	require.NoError(t, err)

	// The provider reports the refund this service just issued: cumulative
	// total 40, already reflected locally.
	echo := decimal.RequireFromString("40.00")
	_, err = f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_refund_echo",
		TxnRef:          "txn_1",
		Type:            entity.CallbackChargeRefunded,
		Amount:          &echo,
	})
	require.ErrorIs(t, err, entity.ErrConflictingData)

	current, err := f.service.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, current.Status)
	require.True(t, current.RefundedAmount.Equal(decimal.RequireFromString("40.00")))
	require.Equal(t,
		[]string{entity.EventTypePaymentCompleted, entity.EventTypePaymentRefunded},
		f.outboxEventTypes())
}

func TestPaymentService_ApplyGatewayEvent_RejectsRefundAboveAmount(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
	})
	payment := f.completedPayment(t, "100.00")

	excess := decimal.RequireFromString("250.00")
	_, err := f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_refund_bad",
		TxnRef:          "txn_1",
		Type:            entity.CallbackChargeRefunded,
		Amount:          &excess,
	})
	require.ErrorIs(t, err, entity.ErrInvalidData)

	current, err := f.service.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, current.Status)
	require.True(t, current.RefundedAmount.IsZero())
}

func TestPaymentService_ApplyGatewayEvent_PartialRefundStaysCompleted(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
	})
	_ = f.completedPayment(t, "100.00")

	partial := decimal.RequireFromString("40.00")
	updated, err := f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_refund_1",
		TxnRef:          "txn_1",
		Type:            entity.CallbackChargeRefunded,
		Amount:          &partial,
	})

	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, updated.Status)
	require.True(t, updated.RefundedAmount.Equal(partial))
	require.Equal(t,
		[]string{entity.EventTypePaymentCompleted, entity.EventTypePaymentRefunded},
		f.outboxEventTypes())
}

func TestPaymentService_ApplyGatewayEvent_FullRefundTransitions(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"}},
	})
	payment := f.completedPayment(t, "100.00")

	full := decimal.RequireFromString("100.00")
	updated, err := f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_refund_1",
		TxnRef:          "txn_1",
		Type:            entity.CallbackChargeRefunded,
		Amount:          &full,
	})

	require.NoError(t, err)
	require.Equal(t, entity.StatusRefunded, updated.Status)
	require.True(t, updated.RefundedAmount.Equal(payment.Amount))

	// A redelivery under a fresh event id reports a total already
	// reflected and changes nothing.
	_, err = f.service.ApplyGatewayEvent(context.Background(), entity.GatewayCallback{
		ProviderEventID: "evt_refund_2",
		TxnRef:          "txn_1",
		Type:            entity.CallbackChargeRefunded,
		Amount:          &full,
	})
	require.ErrorIs(t, err, entity.ErrConflictingData)
}

func TestPaymentService_CreatePayment_AllowsNewAfterFullRefund(t *testing.T) {
	f := newFixture(&fakeGateway{
		authorizeResults: []gateway.Result{
			{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_1"},
			{Outcome: gateway.OutcomeSucceeded, TxnRef: "txn_2"},
		},
		refundResults: []gateway.Result{{Outcome: gateway.OutcomeSucceeded}},
	})
	payment := f.completedPayment(t, "100.00")

	refunded, err := f.service.RefundPayment(context.Background(), payment.ID,
		decimal.RequireFromString("100.00"), entity.Actor{Type: entity.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, entity.StatusRefunded, refunded.Status)

	// A fully refunded payment is terminal and no longer holds the order.
	replacement, err := f.service.CreatePayment(context.Background(), service.CreatePaymentInput{
		OrderRef: payment.OrderRef,
		UserRef:  f.userRef,
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
		MethodID: &f.methodID,
	})
	require.NoError(t, err)
	require.Equal(t, entity.StatusPending, replacement.Status)
	require.NotEqual(t, payment.ID, replacement.ID)
}
