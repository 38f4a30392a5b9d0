package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/getbeton/inspector-sub003/pkg/redis"
)

// RedisStore is a sliding-window limiter backed by a Redis sorted set. The
// check-and-admit step runs as a Lua script so concurrent instances share
// one atomic counter per key.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed rate limit store.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var allowScript = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	-- Remove old entries
	redis.call("zremrangebyscore", key, "-inf", window_start)

	-- Count current entries
	local current = redis.call("zcard", key)

	if current < limit then
		-- Add new entry
		redis.call("zadd", key, now, now .. "-" .. math.random())
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1}
	else
		-- Get oldest entry to calculate retry time
		local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
		if #oldest > 0 then
			return {0, 0, oldest[2]}
		end
		return {0, 0, 0}
	end
`)

// Allow checks if a request is allowed under the rate limit.
// Uses a sliding window over the configured duration.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	rateKey := s.keyPrefix + key

	result, err := allowScript.Run(ctx, s.client.Redis(), []string{rateKey},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		limit,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}

	allowedFlag, err := toInt64(result[0])
	if err != nil {
		return nil, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return nil, err
	}

	res := &Result{
		Allowed:   allowedFlag == 1,
		Remaining: remaining,
		Limit:     limit,
	}

	if !res.Allowed && len(result) > 2 {
		oldestMs, err := toInt64(result[2])
		if err != nil {
			return nil, err
		}
		if oldestMs > 0 {
			res.RetryAfter = time.UnixMilli(oldestMs).Add(window).Sub(now)
		}
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Millisecond
		}
	}

	return res, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		// Redis Lua returns numbers as strings sometimes (e.g., zrange WITHSCORES)
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0, err
			}
			return int64(f), nil
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
