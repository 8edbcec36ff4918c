// Package ratelimit provides a Redis backed fixed-window limiter shared by all replicas.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Limiter decides whether subject may perform one more attempt.
type Limiter interface {
	Allow(ctx context.Context, subject string) (allowed bool, retryAfter time.Duration, err error)
}

// Unlimited allows everything. It is used when Redis is not configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, time.Duration, error) {
	return true, 0, nil
}

type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "wallet:rate_limit"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// New connects to redisURL. An empty URL or non-positive limit yields Unlimited.
func New(redisURL, prefix string, limit int, window time.Duration, logger *slog.Logger) (Limiter, func() error, error) {
	noop := func() error { return nil }
	if strings.TrimSpace(redisURL) == "" || limit <= 0 {
		logger.Info("Purchase rate limiting disabled")
		return Unlimited{}, noop, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisLimiter(client, prefix, limit, window), client.Close, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" || r.limit <= 0 {
		return true, 0, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", r.prefix, subject)
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	if int(count) <= r.limit {
		return true, 0, nil
	}
	retryAfter := time.Duration(math.Ceil(float64(ttlMs)/1000.0)) * time.Second
	return false, retryAfter, nil
}
