package relay

import (
	"context"
	"fmt"
	"time"

	"paycore/pkg/clock"
	"paycore/pkg/logger"
	"paycore/pkg/metric"
)

// Sweeper runs two recovery passes over the outbox. In-flight entries
// abandoned by a dead relay return to pending once they sit in-flight
// longer than stuckAfter. Failed entries cooled down for failedCooldown
// get one more delivery attempt each pass, up to retryCeiling attempts in
// total; past that they stay parked for an operator.
type Sweeper struct {
	source         OutboxSource
	clock          clock.Clock
	logger         logger.Logger
	metrics        metric.Outbox
	sweepInterval  time.Duration
	stuckAfter     time.Duration
	failedCooldown time.Duration
	retryCeiling   int
}

func NewSweeper(
	source OutboxSource,
	clk clock.Clock,
	log logger.Logger,
	metrics metric.Outbox,
	sweepInterval, stuckAfter, failedCooldown time.Duration,
	retryCeiling int,
) *Sweeper {
	return &Sweeper{
		source:         source,
		clock:          clk,
		logger:         log,
		metrics:        metrics,
		sweepInterval:  sweepInterval,
		stuckAfter:     stuckAfter,
		failedCooldown: failedCooldown,
		retryCeiling:   retryCeiling,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	const op = "relay.sweeper.Run"
	log := s.logger.Ctx(ctx)

	log.LogAttrs(ctx, logger.InfoLevel, "outbox sweeper started",
		logger.String("op", op),
		logger.String("interval", s.sweepInterval.String()),
		logger.String("stuck_after", s.stuckAfter.String()),
		logger.String("failed_cooldown", s.failedCooldown.String()),
	)

	for {
		select {
		case <-s.clock.After(s.sweepInterval):
		case <-ctx.Done():
			return nil
		}

		if err := s.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.LogAttrs(ctx, logger.ErrorLevel, "sweep failed",
				logger.String("op", op),
				logger.Any("error", err),
			)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) error {
	const op = "relay.sweeper.SweepOnce"
	log := s.logger.Ctx(ctx)

	released, err := s.source.ReleaseStuck(ctx, s.clock.Now().Add(-s.stuckAfter))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if released > 0 {
		s.metrics.Swept(int(released))
		log.LogAttrs(ctx, logger.WarnLevel, "released stuck outbox entries",
			logger.String("op", op),
			logger.Int64("released", released),
		)
	}

	requeued, err := s.source.RequeueFailedBefore(ctx,
		s.clock.Now().Add(-s.failedCooldown), s.retryCeiling)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if requeued > 0 {
		s.metrics.Requeued(int(requeued))
		log.LogAttrs(ctx, logger.InfoLevel, "requeued cooled-down failed entries",
			logger.String("op", op),
			logger.Int64("requeued", requeued),
		)
	}

	return nil
}
