package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

func TestBus_DeliversInEmissionOrder(t *testing.T) {
	bus := NewBus(16, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, models.DomainEvent{EventType: models.EventQuoteGenerated, EventID: fmt.Sprintf("evt-%d", i)}))
	}
	require.NoError(t, bus.Close())

	var seen []string
	err := bus.Run(ctx, func(_ context.Context, e models.DomainEvent) error {
		seen = append(seen, e.EventID)
		if e.EventID == "evt-1" {
			return errors.New("handler failure is not fatal")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-0", "evt-1", "evt-2", "evt-3", "evt-4"}, seen)

	require.ErrorIs(t, bus.Publish(ctx, models.DomainEvent{}), ErrBusClosed)
	require.NoError(t, bus.Close())
}

func TestBus_PublishHonoursContext(t *testing.T) {
	bus := NewBus(1, nil)
	require.NoError(t, bus.Publish(context.Background(), models.DomainEvent{EventID: "fills-buffer"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, bus.Publish(ctx, models.DomainEvent{EventID: "blocked"}), context.DeadlineExceeded)
}

func TestBus_RunStopsWithContext(t *testing.T) {
	bus := NewBus(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx, func(context.Context, models.DomainEvent) error { return nil }) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
