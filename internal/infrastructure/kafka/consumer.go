package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

const retryBackoff = 200 * time.Millisecond

// Consumer reads a topic as part of a consumer group. Offsets are committed
// only after the handler succeeds, so a failed message is redelivered.
type Consumer struct {
	reader     *kafka.Reader
	logger     *zap.Logger
	maxRetries int
}

func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,
	})
	return &Consumer{reader: reader, logger: logger.Named("kafka"), maxRetries: 3}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			c.logger.Warn("fetch failed", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			// Skip the message after the retries are spent so one poison
			// message does not stall the partition.
			c.logger.Error("message dropped",
				zap.String("key", string(msg.Key)),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
		if err = handler(ctx, msg.Key, msg.Value); err == nil {
			return nil
		}
		c.logger.Warn("handler failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
