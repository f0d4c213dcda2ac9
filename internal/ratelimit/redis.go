package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed window counter (INCR + EXPIRE) shared by every replica.
type Redis struct {
	client redis.Cmdable
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewRedis(client redis.Cmdable, prefix string, max int, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "portal:rl:"
	}
	if window <= 0 {
		window = time.Minute
	}
	if max < 1 {
		max = 1
	}
	return &Redis{client: client, prefix: prefix, max: int64(max), window: window, now: time.Now}
}

func (l *Redis) windowKey(key string, now time.Time) string {
	start := now.UTC().Truncate(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, sanitizeKey(key), start.Unix())
}

func (l *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	redisKey := l.windowKey(key, now)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate window %s: %w", redisKey, err)
	}
	return l.result(incr.Val(), ttl.Val(), now), nil
}

func (l *Redis) result(hits int64, ttl time.Duration, now time.Time) Result {
	remaining := l.max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: hits <= l.max, Remaining: remaining}
	if !res.Allowed {
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = now.UTC().Truncate(l.window).Add(l.window).Sub(now.UTC())
		}
	}
	return res
}
