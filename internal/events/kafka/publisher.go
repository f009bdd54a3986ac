package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// Publisher writes domain events to the topic named after their type. The
// aggregate id is the message key so one quote's events stay on one partition.
type Publisher struct {
	writer Writer
	logger *zap.Logger
}

// NewPublisher builds a publisher backed by a kafka-go writer.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) *Publisher {
	return NewPublisherWithWriter(&kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, logger)
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(writer Writer, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, logger: logger}
}

// Publish serializes event and writes it synchronously.
func (p *Publisher) Publish(ctx context.Context, event models.DomainEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}

	headers := []kafkago.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "source_service", Value: []byte(config.ServiceName)},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &headers})

	msg := kafkago.Message{
		Topic:   string(event.EventType),
		Key:     []byte(event.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s to %s: %w", event.EventID, msg.Topic, err)
	}

	p.logger.Debug("event written to kafka",
		zap.String("topic", msg.Topic),
		zap.String("event_id", event.EventID))
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
