package kafka

import (
	"context"
	"encoding/json"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/internal/events"
)

// Consumer reads every event topic as one consumer group member. Offsets are
// committed once the handler returns, whatever the delivery outcome; delivery
// state lives in the notification records, not in the broker.
type Consumer struct {
	reader  Reader
	handler events.Handler
	logger  *zap.Logger
}

// NewConsumer subscribes to topics with a kafka-go group reader.
func NewConsumer(cfg config.KafkaConfig, topics []models.EventType, handler events.Handler, logger *zap.Logger) *Consumer {
	groupTopics := make([]string, 0, len(topics))
	for _, t := range topics {
		groupTopics = append(groupTopics, string(t))
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: groupTopics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	return NewConsumerWithReader(reader, handler, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader Reader, handler events.Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, handler: handler, logger: logger}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started, waiting for events")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("context done, exiting kafka read loop", zap.Error(err))
				break
			}
			c.logger.Error("error reading from kafka", zap.Error(err))
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("failed to commit offset",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}

	c.logger.Info("kafka consumer finished")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	var event models.DomainEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("dropping undecodable event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}
	if event.EventType == "" {
		event.EventType = models.EventType(msg.Topic)
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &msg.Headers})
	if err := c.handler(ctx, event); err != nil {
		c.logger.Error("event handler failed",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
