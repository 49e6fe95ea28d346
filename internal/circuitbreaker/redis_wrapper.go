package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards a Redis client with a circuit breaker so session
// operations degrade to the local cache instead of piling up on a dead
// backend.
type RedisWrapper struct {
	client redis.UniversalClient
	cb     *CircuitBreaker
}

// NewRedisWrapper wraps a Redis client.
func NewRedisWrapper(client redis.UniversalClient, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     New("redis", "session-store", DefaultConfig(), logger),
	}
}

// Client exposes the underlying client for health checks.
func (rw *RedisWrapper) Client() redis.UniversalClient { return rw.client }

// IsOpen reports whether the breaker currently rejects requests.
func (rw *RedisWrapper) IsOpen() bool { return rw.cb.IsOpen() }

// Ping checks connectivity through the breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.cb.Execute(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
}

// Get fetches a key. A redis.Nil miss is not a breaker failure.
func (rw *RedisWrapper) Get(ctx context.Context, key string) (string, error) {
	var val string
	missed := false
	err := rw.cb.Execute(ctx, func() error {
		v, err := rw.client.Get(ctx, key).Result()
		if err == redis.Nil {
			missed = true
			return nil
		}
		val = v
		return err
	})
	if err != nil {
		return "", err
	}
	if missed {
		return "", redis.Nil
	}
	return val, nil
}

// Set stores a key with a TTL.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rw.cb.Execute(ctx, func() error {
		return rw.client.Set(ctx, key, value, ttl).Err()
	})
}

// Del removes a key.
func (rw *RedisWrapper) Del(ctx context.Context, key string) error {
	return rw.cb.Execute(ctx, func() error {
		return rw.client.Del(ctx, key).Err()
	})
}
