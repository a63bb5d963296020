package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindowLimiter counts hits per key in fixed windows aligned to
// the Unix epoch, so every replica shares the same buckets.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// releaseScript decrements a live bucket and never recreates an expired one.
var releaseScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 and tonumber(redis.call("GET", KEYS[1])) > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string, now func() time.Time) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	window := policy.Window
	bucket := now.UnixNano() / int64(window)
	windowEnd := time.Unix(0, (bucket+1)*int64(window))
	redisKey := l.bucketKey(key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(incr.Val())
	retryAfter := max(windowEnd.Sub(now), time.Second)
	if count > policy.Limit {
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter,
			ResetAt:    windowEnd,
			Reason:     "window",
		}, nil
	}
	return Decision{
		Allowed:   true,
		HitAt:     now,
		Remaining: policy.Limit - count,
		ResetAt:   windowEnd,
	}, nil
}

// Release decrements the bucket hitAt fell into. A bucket that has already
// rolled over is left alone.
func (l *RedisFixedWindowLimiter) Release(ctx context.Context, key string, policy RateLimitPolicy, hitAt time.Time) error {
	policy = normalizePolicy(policy)
	bucket := hitAt.UnixNano() / int64(policy.Window)
	if err := releaseScript.Run(ctx, l.client, []string{l.bucketKey(key, bucket)}).Err(); err != nil {
		return fmt.Errorf("redis rate limit release: %w", err)
	}
	return nil
}

func (l *RedisFixedWindowLimiter) bucketKey(key string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)
}
