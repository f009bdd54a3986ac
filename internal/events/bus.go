package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Handler consumes one domain event. Its error is logged by the transport
// and never causes redelivery.
type Handler func(ctx context.Context, event models.DomainEvent) error

// Bus is an in-process event transport used when no broker is configured.
// A single consumer goroutine keeps emission order.
type Bus struct {
	events chan models.DomainEvent
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewBus creates a bus buffering up to size events.
func NewBus(size int, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size < 1 {
		size = 1
	}
	return &Bus{
		events: make(chan models.DomainEvent, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish enqueues event, waiting for buffer space until ctx is done.
func (b *Bus) Publish(ctx context.Context, event models.DomainEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.events <- event:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run feeds events to handler until ctx is done or the bus is closed and drained.
func (b *Bus) Run(ctx context.Context, handler Handler) error {
	b.logger.Info("event bus consumer started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("event bus consumer stopped")
			return nil
		case event, ok := <-b.events:
			if !ok {
				b.logger.Info("event bus drained")
				return nil
			}
			if err := handler(ctx, event); err != nil {
				b.logger.Error("event handler failed",
					zap.String("event_type", string(event.EventType)),
					zap.String("event_id", event.EventID),
					zap.Error(err))
			}
		}
	}
}

// Close stops accepting events. Buffered events are still delivered to Run.
func (b *Bus) Close() error {
	b.doneOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.events)
	return nil
}
