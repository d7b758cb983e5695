package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/supply-marketplace/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const headerEventType = "x-event-type"

// Producer publishes commerce events, keyed by aggregate id so that every
// event of one order lands on the same partition.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer, logger: logger.Named("kafka")}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := message(key, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func message(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if e, ok := event.(events.Event); ok {
		msg.Headers = append(msg.Headers, kafka.Header{Key: headerEventType, Value: []byte(e.EventType)})
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
