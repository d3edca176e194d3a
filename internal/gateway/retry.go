package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"paycore/internal/entity"
	"paycore/pkg/clock"
	"paycore/pkg/logger"
	"paycore/pkg/metric"
)

const _backoffMultiplier = 2

// RetryPolicy bounds how often a transient gateway failure is retried.
// Only OutcomeTransient is ever retried; the idempotency key is reused
// across attempts so the provider sees one logical request.
type RetryPolicy struct {
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= _backoffMultiplier
		if delay > p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	jitter := time.Duration(rand.Int64N(int64(delay)))
	if delay+jitter > p.MaxRetryDelay {
		return p.MaxRetryDelay
	}
	return delay + jitter
}

// ResilientClient composes the retry policy and circuit breaker around an
// inner client. It is the only Client implementation the service sees.
type ResilientClient struct {
	inner   Client
	policy  RetryPolicy
	breaker *Breaker
	clock   clock.Clock
	metrics metric.Gateway
	log     logger.Logger
}

func NewResilientClient(
	inner Client,
	policy RetryPolicy,
	breaker *Breaker,
	clk clock.Clock,
	metrics metric.Gateway,
	log logger.Logger,
) *ResilientClient {
	return &ResilientClient{
		inner:   inner,
		policy:  policy,
		breaker: breaker,
		clock:   clk,
		metrics: metrics,
		log:     log,
	}
}

func (c *ResilientClient) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	return c.call(ctx, "authorize", func(ctx context.Context) (Result, error) {
		return c.inner.Authorize(ctx, req)
	})
}

func (c *ResilientClient) Confirm(ctx context.Context, txnRef, idempotencyKey string) (Result, error) {
	return c.call(ctx, "confirm", func(ctx context.Context) (Result, error) {
		return c.inner.Confirm(ctx, txnRef, idempotencyKey)
	})
}

func (c *ResilientClient) Cancel(ctx context.Context, txnRef, idempotencyKey string) (Result, error) {
	return c.call(ctx, "cancel", func(ctx context.Context) (Result, error) {
		return c.inner.Cancel(ctx, txnRef, idempotencyKey)
	})
}

func (c *ResilientClient) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	return c.call(ctx, "refund", func(ctx context.Context) (Result, error) {
		return c.inner.Refund(ctx, req)
	})
}

func (c *ResilientClient) call(
	ctx context.Context,
	operation string,
	fn func(ctx context.Context) (Result, error),
) (Result, error) {
	const op = "gateway.resilient_client.call"

	var result Result
	for attempt := 1; ; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			c.metrics.BreakerFastFail()
			c.metrics.BreakerState(c.breaker.State())
			if errors.Is(err, entity.ErrBreakerOpen) {
				return Result{
					Outcome: OutcomeTransient,
					Reason:  "circuit breaker open",
				}, nil
			}
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}

		start := c.clock.Now()
		var err error
		result, err = fn(ctx)
		if err != nil {
			c.breaker.Record(true)
			c.metrics.BreakerState(c.breaker.State())
			return Result{}, fmt.Errorf("%s: %s: %w", op, operation, err)
		}

		c.breaker.Record(result.Outcome == OutcomeTransient)
		c.metrics.Call(operation, string(result.Outcome), c.clock.Now().Sub(start))
		c.metrics.BreakerState(c.breaker.State())

		if result.Outcome != OutcomeTransient || attempt > c.policy.MaxRetries {
			return result, nil
		}

		delay := c.policy.backoff(attempt)
		c.metrics.Retry(operation)
		c.log.LogAttrs(ctx, logger.WarnLevel, "transient gateway failure, retrying",
			logger.String("op", op),
			logger.String("operation", operation),
			logger.Int("attempt", attempt),
			logger.Int("max_retries", c.policy.MaxRetries),
			logger.String("retry_after", delay.String()),
			logger.String("reason", result.Reason),
		)

		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%s: context done: %w", op, ctx.Err())
		}
	}
}
