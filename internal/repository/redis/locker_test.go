package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/wagonmaint/internal/config"
)

func TestNewLockerFailsWhenRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewLocker(ctx, config.RedisConfig{Addr: "127.0.0.1:1", LockTTL: time.Second}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}

func TestLockSurfacesConnectionErrors(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	locker := NewLockerWithClient(client, 0, nil)
	t.Cleanup(func() { _ = locker.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	unlock, err := locker.Lock(ctx, "DEV-1")
	require.Error(t, err)
	assert.Nil(t, unlock)
	assert.Equal(t, 30*time.Second, locker.ttl)
}
