package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "ratelimit:"

// RedisLimiter is a fixed-window counter shared by every instance that
// points at the same Redis.
type RedisLimiter struct {
	client   *redis.Client
	requests int64
	window   time.Duration
	now      func() time.Time
}

// NewRedisLimiter connects to redisURL (redis://[:password@]host:port/db).
func NewRedisLimiter(ctx context.Context, redisURL string, requests int, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisLimiter{client: client, requests: int64(requests), window: window, now: time.Now}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowStart := l.now().UnixNano() / int64(l.window)
	redisKey := keyPrefix + key + ":" + strconv.FormatInt(windowStart, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	return incr.Val() <= l.requests, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
