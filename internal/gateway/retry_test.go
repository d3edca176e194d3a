package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"paycore/pkg/clock"
	"paycore/pkg/logger"
	"paycore/pkg/metric"
)

// scriptedClient returns the scripted results in order and records every
// request it receives.
type scriptedClient struct {
	results  []Result
	calls    int
	requests []AuthorizeRequest
}

func (s *scriptedClient) next() Result {
	r := s.results[s.calls]
	s.calls++
	return r
}

func (s *scriptedClient) Authorize(_ context.Context, req AuthorizeRequest) (Result, error) {
	s.requests = append(s.requests, req)
	return s.next(), nil
}

func (s *scriptedClient) Confirm(context.Context, string, string) (Result, error) {
	return s.next(), nil
}

func (s *scriptedClient) Cancel(context.Context, string, string) (Result, error) {
	return s.next(), nil
}

func (s *scriptedClient) Refund(context.Context, RefundRequest) (Result, error) {
	return s.next(), nil
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
		MaxRetryDelay:  5 * time.Millisecond,
	}
}

func testBreaker() *Breaker {
	return NewBreaker(BreakerConfig{
		Window:    time.Minute,
		Threshold: 0.5,
		MinCalls:  100,
		Cooldown:  time.Minute,
		MaxProbes: 1,
	}, clock.New())
}

func newResilient(inner Client, breaker *Breaker) *ResilientClient {
	return NewResilientClient(
		inner,
		testPolicy(),
		breaker,
		clock.New(),
		metric.NewNopFactory().Gateway(),
		logger.NewNop(),
	)
}

func authorizeReq() AuthorizeRequest {
	return AuthorizeRequest{
		Amount:         decimal.RequireFromString("99.99"),
		Currency:       "USD",
		MethodToken:    "tok_test",
		IdempotencyKey: "11111111-1111-1111-1111-111111111111",
	}
}

func TestResilientClient_RetriesTransientWithSameRequest(t *testing.T) {
	inner := &scriptedClient{results: []Result{
		{Outcome: OutcomeTransient, Reason: "gateway timeout"},
		{Outcome: OutcomeTransient, Reason: "gateway timeout"},
		{Outcome: OutcomeSucceeded, TxnRef: "txn_1"},
	}}
	client := newResilient(inner, testBreaker())

	result, err := client.Authorize(context.Background(), authorizeReq())

	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Equal(t, "txn_1", result.TxnRef)
	require.Equal(t, 3, inner.calls)

	// Every attempt carries the same idempotency key, so the provider sees
	// one logical charge no matter how many wire attempts happen.
	for _, req := range inner.requests {
		require.Equal(t, "11111111-1111-1111-1111-111111111111", req.IdempotencyKey)
	}
}

func TestResilientClient_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &scriptedClient{results: []Result{
		{Outcome: OutcomeTransient, Reason: "down"},
		{Outcome: OutcomeTransient, Reason: "down"},
		{Outcome: OutcomeTransient, Reason: "down"},
	}}
	client := newResilient(inner, testBreaker())

	result, err := client.Authorize(context.Background(), authorizeReq())

	require.NoError(t, err)
	require.Equal(t, OutcomeTransient, result.Outcome)
	require.Equal(t, 3, inner.calls) // initial attempt plus MaxRetries
}

func TestResilientClient_DoesNotRetryDecline(t *testing.T) {
	inner := &scriptedClient{results: []Result{
		{Outcome: OutcomeDeclined, Reason: "insufficient_funds"},
	}}
	client := newResilient(inner, testBreaker())

	result, err := client.Authorize(context.Background(), authorizeReq())

	require.NoError(t, err)
	require.Equal(t, OutcomeDeclined, result.Outcome)
	require.Equal(t, 1, inner.calls)
}

func TestResilientClient_FastFailsWhenBreakerOpen(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{
		Window:    time.Minute,
		Threshold: 0.5,
		MinCalls:  1,
		Cooldown:  time.Minute,
		MaxProbes: 1,
	}, clock.New())
	breaker.Record(true)
	require.Equal(t, "open", breaker.State())

	inner := &scriptedClient{}
	client := newResilient(inner, breaker)

	result, err := client.Authorize(context.Background(), authorizeReq())

	require.NoError(t, err)
	require.Equal(t, OutcomeTransient, result.Outcome)
	require.Equal(t, "circuit breaker open", result.Reason)
	require.Zero(t, inner.calls)
}

func TestResilientClient_ContextCancelStopsRetries(t *testing.T) {
	inner := &scriptedClient{results: []Result{
		{Outcome: OutcomeTransient, Reason: "down"},
	}}
	client := NewResilientClient(
		inner,
		RetryPolicy{MaxRetries: 2, BaseRetryDelay: time.Second, MaxRetryDelay: time.Second},
		testBreaker(),
		clock.New(),
		metric.NewNopFactory().Gateway(),
		logger.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Authorize(ctx, authorizeReq())
		errCh <- err
	}()

	// Let the first attempt land, then cancel while the client waits out
	// the backoff.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("client did not observe cancellation")
	}
	require.Equal(t, 1, inner.calls)
}
