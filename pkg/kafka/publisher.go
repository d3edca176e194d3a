package kafka

import (
	"context"
	"fmt"

	"paycore/internal/config"
	"paycore/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Publisher writes domain events to the bus. Messages with the same key
// land on the same partition, which is what preserves per-aggregate order.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type busPublisher struct {
	writer *kafka.Writer
	log    logger.Logger
}

func NewPublisher(cfg config.Kafka, log logger.Logger) (Publisher, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		Async:        false,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.LogAttrs(context.Background(), logger.DebugLevel, "kafka writer info",
				logger.String("message", fmt.Sprintf(msg, args...)),
			)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.LogAttrs(context.Background(), logger.ErrorLevel, "kafka writer error",
				logger.String("error", fmt.Sprintf(msg, args...)),
			)
		}),
	}

	if err := checkConnection(cfg.Brokers, log); err != nil {
		return nil, err
	}

	return &busPublisher{writer: writer, log: log}, nil
}

func (p *busPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	const op = "kafka.publisher.Publish"

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: write message: %w", op, err)
	}
	return nil
}

func (p *busPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka.publisher.Close: %w", err)
	}
	return nil
}

func checkConnection(brokers []string, log logger.Logger) error {
	const op = "kafka.checkConnection"

	dialer := &kafka.Dialer{}
	for _, broker := range brokers {
		conn, err := dialer.Dial("tcp", broker)
		if err != nil {
			return fmt.Errorf("%s: connect to %s: %w", op, broker, err)
		}

		if err = conn.Close(); err != nil {
			log.Warnw("failed to close connection",
				"operation", op,
				"broker", broker,
				"error", err)
		}
	}
	return nil
}
