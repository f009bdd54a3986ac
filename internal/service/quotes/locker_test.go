package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "devis:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "devis:1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), "devis:2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "devis:1")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}
