package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares limits across replicas through redis using the
// GCRA implementation from redis_rate.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a limiter allowing config.RequestsPerMinute per
// key with config.BurstSize as burst. Keys are stored under "{prefix}:rl:".
func NewRedisRateLimiter(rdb *redis.Client, prefix string, config RateLimitConfig) *RedisRateLimiter {
	limit := redis_rate.PerMinute(config.RequestsPerMinute)
	if config.BurstSize > 0 {
		limit.Burst = config.BurstSize
	}
	if prefix == "" {
		prefix = "spark"
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   limit,
		prefix:  prefix,
	}
}

// Allow consumes one request for key.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (LimitResult, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+":rl:"+key, l.limit)
	if err != nil {
		return LimitResult{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return LimitResult{
		Allowed:    res.Allowed > 0,
		Limit:      l.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
