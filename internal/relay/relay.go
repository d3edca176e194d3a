// Package relay drains the transactional outbox to the message bus. It
// polls for pending entries, publishes them per routing key in order, and
// feeds delivery outcomes back so undelivered events are retried and
// eventually parked for an operator.
package relay

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/entity"
	"paycore/pkg/clock"
	"paycore/pkg/logger"
	"paycore/pkg/metric"

	"github.com/google/uuid"
)

type (
	OutboxSource interface {
		ClaimBatch(ctx context.Context, batchSize, shardIndex, shardCount int) ([]entity.OutboxEntry, error)
		MarkDelivered(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, lastError string) error
		MarkExhausted(ctx context.Context, id uuid.UUID, lastError string) error
		Release(ctx context.Context, id uuid.UUID) error
		ReleaseStuck(ctx context.Context, stuckBefore time.Time) (int64, error)
		RequeueFailedBefore(ctx context.Context, failedBefore time.Time, retryCeiling int) (int64, error)
	}

	Publisher interface {
		Publish(ctx context.Context, topic, key string, value []byte) error
	}

	Config struct {
		BatchSize    int
		PollInterval time.Duration
		MaxRetries   int
		ShardIndex   int
		ShardCount   int
	}

	Relay struct {
		source    OutboxSource
		publisher Publisher
		clock     clock.Clock
		logger    logger.Logger
		metrics   metric.Outbox
		cfg       Config
	}
)

func New(
	source OutboxSource,
	publisher Publisher,
	clk clock.Clock,
	log logger.Logger,
	metrics metric.Outbox,
	cfg Config,
) *Relay {
	return &Relay{
		source:    source,
		publisher: publisher,
		clock:     clk,
		logger:    log,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run polls until ctx is canceled. Consecutive full batches are drained
// back to back; an empty claim waits out the poll interval.
func (r *Relay) Run(ctx context.Context) error {
	const op = "relay.Run"
	log := r.logger.Ctx(ctx)

	log.LogAttrs(ctx, logger.InfoLevel, "outbox relay started",
		logger.String("op", op),
		logger.Int("shard_index", r.cfg.ShardIndex),
		logger.Int("shard_count", r.cfg.ShardCount),
		logger.Int("batch_size", r.cfg.BatchSize),
	)

	for {
		published, err := r.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.LogAttrs(ctx, logger.ErrorLevel, "relay pass failed",
				logger.String("op", op),
				logger.Any("error", err),
			)
		}

		if published > 0 {
			continue
		}

		select {
		case <-r.clock.After(r.cfg.PollInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

// ProcessOnce claims one batch and publishes it. It returns the number of
// entries delivered. When a publish fails, later entries of the same
// routing key are held back so the key's order survives the retry.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	const op = "relay.ProcessOnce"
	log := r.logger.Ctx(ctx)

	entries, err := r.source.ClaimBatch(ctx, r.cfg.BatchSize, r.cfg.ShardIndex, r.cfg.ShardCount)
	if err != nil {
		return 0, fmt.Errorf("%s: claim batch: %w", op, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	r.metrics.BatchSize(len(entries))

	published := 0
	heldKeys := make(map[string]struct{})

	for i := range entries {
		entry := &entries[i]

		if _, held := heldKeys[entry.RoutingKey]; held {
			if releaseErr := r.source.Release(ctx, entry.ID); releaseErr != nil {
				log.LogAttrs(ctx, logger.ErrorLevel, "release held entry failed",
					logger.String("op", op),
					logger.String("entry_id", entry.ID.String()),
					logger.Any("error", releaseErr),
				)
			}
			continue
		}

		if err := r.publish(ctx, entry); err != nil {
			heldKeys[entry.RoutingKey] = struct{}{}
			r.handlePublishFailure(ctx, entry, err)
			continue
		}

		if err := r.source.MarkDelivered(ctx, entry.ID); err != nil {
			// The publish went out; a redelivery after restart is
			// absorbed by consumer-side event ids.
			log.LogAttrs(ctx, logger.ErrorLevel, "mark delivered failed",
				logger.String("op", op),
				logger.String("entry_id", entry.ID.String()),
				logger.Any("error", err),
			)
			continue
		}

		r.metrics.Published(entry.Topic)
		published++
	}

	return published, nil
}

func (r *Relay) publish(ctx context.Context, entry *entity.OutboxEntry) error {
	return r.publisher.Publish(ctx, entry.Topic, entry.RoutingKey, entry.Payload)
}

func (r *Relay) handlePublishFailure(ctx context.Context, entry *entity.OutboxEntry, pubErr error) {
	const op = "relay.handlePublishFailure"
	log := r.logger.Ctx(ctx)

	r.metrics.PublishFailed(entry.Topic, "publish_error")

	if entry.RetryCount+1 >= r.cfg.MaxRetries {
		if err := r.source.MarkExhausted(ctx, entry.ID, pubErr.Error()); err != nil {
			log.LogAttrs(ctx, logger.ErrorLevel, "mark exhausted failed",
				logger.String("op", op),
				logger.String("entry_id", entry.ID.String()),
				logger.Any("error", err),
			)
			return
		}
		r.metrics.Exhausted(entry.Topic)
		log.LogAttrs(ctx, logger.ErrorLevel, "outbox entry parked after retry budget",
			logger.String("op", op),
			logger.String("entry_id", entry.ID.String()),
			logger.String("event_type", entry.EventType),
			logger.Int("retries", entry.RetryCount+1),
			logger.Any("error", pubErr),
		)
		return
	}

	if err := r.source.MarkRetry(ctx, entry.ID, pubErr.Error()); err != nil {
		log.LogAttrs(ctx, logger.ErrorLevel, "mark retry failed",
			logger.String("op", op),
			logger.String("entry_id", entry.ID.String()),
			logger.Any("error", err),
		)
		return
	}
	r.metrics.Retried(entry.Topic)
	log.LogAttrs(ctx, logger.WarnLevel, "outbox publish failed, will retry",
		logger.String("op", op),
		logger.String("entry_id", entry.ID.String()),
		logger.Int("retry_count", entry.RetryCount+1),
		logger.Any("error", pubErr),
	)
}
