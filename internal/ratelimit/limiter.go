package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter performs sliding-window rate limiting backed by Redis sorted sets.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewLimiter creates a rate limiter. If rdb is nil, all checks pass (fail open).
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// slidingWindowScript atomically drops expired entries, counts, and records
// the request when under the limit.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro)
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// ARGV[5] = unique member for this request
// Returns: [count, 1=allowed/0=denied, oldest score in window or 0]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
local allowed = 0

if count < limit then
    redis.call('ZADD', key, now, ARGV[5])
    count = count + 1
    allowed = 1
end
redis.call('EXPIRE', key, ttl)

local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end
return {count, allowed, oldest}
`)

// Check counts one request against key and reports whether it is within
// limit requests per window. Redis errors fail open.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	now := l.now()
	if l.rdb == nil {
		return LimitResult{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}

	nowMicro := now.UnixMicro()
	windowStart := now.Add(-window).UnixMicro()
	ttlSecs := int64(window.Seconds()) + 1
	member := fmt.Sprintf("%d:%d", nowMicro, rand.Int64())

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{"relay:rl:" + key},
		windowStart, nowMicro, limit, ttlSecs, member,
	).Int64Slice()
	if err != nil || len(result) < 3 {
		slog.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return LimitResult{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, nil
	}

	count, allowed, oldest := result[0], result[1] == 1, result[2]
	remaining := max(limit-count, 0)

	resetAt := now.Add(window)
	if oldest > 0 {
		resetAt = time.UnixMicro(oldest).Add(window)
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = max(resetAt.Sub(now), time.Second)
	}

	return LimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
