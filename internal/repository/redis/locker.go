package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
)

const keyPrefix = "devis-lock:"

// ErrLockTimeout is returned when a quote lock could not be obtained before
// the context expired.
var ErrLockTimeout = errors.New("could not obtain quote lock")

// Locker serializes quote transitions across service instances.
type Locker struct {
	client *goredis.Client
	locks  *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewLocker connects to Redis and verifies the connection.
func NewLocker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Locker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return NewLockerWithClient(client, cfg.LockTTL, logger), nil
}

// NewLockerWithClient wraps an existing client.
func NewLockerWithClient(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client: client,
		locks:  redislock.New(client),
		ttl:    ttl,
		logger: logger,
	}
}

// Lock waits for key until ctx is done. The lock expires on its own after the
// configured TTL if the holder never releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.locks.Obtain(ctx, keyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	return func() {
		// Release must not inherit a cancelled request context.
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release quote lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}
