package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter caps how many actions a key may take in a window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts actions per key in redis so every server instance
// shares the same budget. Each action pushes the window expiry forward.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	return &RedisLimiter{rdb: rdb, limit: limit, window: window}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = "ratelimit:" + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count, err := incr.Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}

	return count <= int64(l.limit), nil
}

// NoopLimiter allows everything. It is used when no redis is configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}
