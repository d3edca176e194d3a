// Package app wires configuration, storage, the gateway client, the
// outbox relay, and the HTTP transport into runnable services.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"paycore/internal/config"
	"paycore/internal/gateway"
	"paycore/internal/reconciler"
	"paycore/internal/relay"
	"paycore/internal/repository"
	"paycore/internal/service"
	httpt "paycore/internal/transport/http"
	"paycore/migrations"
	"paycore/pkg/clock"
	"paycore/pkg/kafka"
	"paycore/pkg/logger"
	"paycore/pkg/metric"
	"paycore/pkg/storage/postgres"
	"paycore/pkg/storage/postgres/transaction"

	"golang.org/x/sync/errgroup"
)

// Run starts the payment service: HTTP API, webhook endpoint, and an
// in-process outbox relay shard.
func Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	metrics := initMetrics(ctx, eg, &cfg.Metrics, log)

	db, err := initDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	txManager, err := initTransactionManager(db, log, metrics)
	if err != nil {
		return err
	}

	publisher, err := kafka.NewPublisher(cfg.Kafka, log.With("component", "kafka publisher"))
	if err != nil {
		return fmt.Errorf("app.Run: kafka publisher: %w", err)
	}
	defer publisher.Close()

	clk := clock.New()
	gatewayClient := initGateway(cfg, clk, log, metrics)
	paymentService := initPaymentService(cfg, db, txManager, gatewayClient, clk, log)
	rec := reconciler.New(
		paymentService,
		log.With("component", "reconciler"),
		metrics.Webhook(),
	)

	startRelay(ctx, eg, cfg, db, publisher, clk, log, metrics)

	httpServer := httpt.NewHTTPServer(
		httpt.NewPaymentHandler(paymentService, rec, log, metrics.HTTP()),
		&cfg.HTTP,
		log.With("component", "http server"),
	)
	eg.Go(func() error {
		return httpServer.Start(ctx)
	})

	return waitForShutdown(eg)
}

// RunRelay starts a standalone relay shard without the HTTP API. Used to
// scale delivery independently of the request path.
func RunRelay(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	metrics := initMetrics(ctx, eg, &cfg.Metrics, log)

	db, err := initDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	publisher, err := kafka.NewPublisher(cfg.Kafka, log.With("component", "kafka publisher"))
	if err != nil {
		return fmt.Errorf("app.RunRelay: kafka publisher: %w", err)
	}
	defer publisher.Close()

	startRelay(ctx, eg, cfg, db, publisher, clock.New(), log, metrics)

	return waitForShutdown(eg)
}

func initMetrics(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Metrics,
	log logger.Logger,
) metric.Factory {
	metrics := metric.NewFactory()

	metricsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           metrics.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	eg.Go(func() error {
		log.Infow("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app.initMetrics: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return metrics
}

func initDatabase(cfg *config.Config, log logger.Logger) (*postgres.Postgres, error) {
	if cfg.Postgres.Migrate {
		if err := migrations.Up(cfg.Postgres.URL()); err != nil {
			return nil, fmt.Errorf("app.initDatabase: %w", err)
		}
		log.Infow("database migrations applied")
	}

	db, err := postgres.NewPostgres(
		&cfg.Postgres,
		log.With("component", "database"),
		postgres.MaxPoolSize(cfg.Postgres.PoolMax),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initDatabase: %w", err)
	}
	return db, nil
}

func initTransactionManager(
	db *postgres.Postgres,
	log logger.Logger,
	metrics metric.Factory,
) (transaction.Manager, error) {
	txManager, err := transaction.NewManager(
		db,
		log.With("component", "transaction manager"),
		metrics.Transaction(),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initTransactionManager: %w", err)
	}
	return txManager, nil
}

func initGateway(
	cfg *config.Config,
	clk clock.Clock,
	log logger.Logger,
	metrics metric.Factory,
) gateway.Client {
	httpClient := gateway.NewHTTPClient(&cfg.Gateway, log.With("component", "gateway http client"))

	breaker := gateway.NewBreaker(gateway.BreakerConfig{
		Window:    cfg.Gateway.BreakerWindow,
		Threshold: cfg.Gateway.BreakerThreshold,
		MinCalls:  cfg.Gateway.BreakerMinCalls,
		Cooldown:  cfg.Gateway.BreakerCooldown,
		MaxProbes: cfg.Gateway.BreakerProbes,
	}, clk)

	return gateway.NewResilientClient(
		httpClient,
		gateway.RetryPolicy{
			MaxRetries:     cfg.Gateway.MaxRetries,
			BaseRetryDelay: cfg.Gateway.BaseRetryDelay,
			MaxRetryDelay:  cfg.Gateway.MaxRetryDelay,
		},
		breaker,
		clk,
		metrics.Gateway(),
		log.With("component", "gateway client"),
	)
}

func initPaymentService(
	cfg *config.Config,
	db *postgres.Postgres,
	txManager transaction.Manager,
	gatewayClient gateway.Client,
	clk clock.Clock,
	log logger.Logger,
) *service.PaymentService {
	return service.NewPaymentService(
		repository.NewPaymentRepository(db),
		repository.NewMethodRepository(db),
		repository.NewOutboxRepository(db),
		repository.NewAuditRepository(db),
		repository.NewWebhookRepository(db),
		txManager,
		gatewayClient,
		clk,
		log.With("component", "payment service"),
		cfg.Kafka.Topic,
	)
}

func startRelay(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Config,
	db *postgres.Postgres,
	publisher kafka.Publisher,
	clk clock.Clock,
	log logger.Logger,
	metrics metric.Factory,
) {
	outboxRepo := repository.NewOutboxRepository(db)

	outboxRelay := relay.New(
		outboxRepo,
		publisher,
		clk,
		log.With("component", "outbox relay"),
		metrics.Outbox(),
		relay.Config{
			BatchSize:    cfg.Outbox.BatchSize,
			PollInterval: cfg.Outbox.PollInterval,
			MaxRetries:   cfg.Outbox.MaxRetries,
			ShardIndex:   cfg.Outbox.ShardIndex,
			ShardCount:   cfg.Outbox.ShardCount,
		},
	)
	eg.Go(func() error {
		return outboxRelay.Run(ctx)
	})

	sweeper := relay.NewSweeper(
		outboxRepo,
		clk,
		log.With("component", "outbox sweeper"),
		metrics.Outbox(),
		cfg.Outbox.SweepInterval,
		cfg.Outbox.StuckAfter,
		cfg.Outbox.FailedCooldown,
		cfg.Outbox.SweepRetryCeiling,
	)
	eg.Go(func() error {
		return sweeper.Run(ctx)
	})
}

func waitForShutdown(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("app.waitForShutdown: application failed: %w", err)
	}
	return nil
}
