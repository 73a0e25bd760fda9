package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Bucket state is a hash of {tokens, at}. Refill uses the redis clock so
// replicas with skewed clocks share one bucket.
const spendTokenScript = `
local per_ms = tonumber(ARGV[1]) / 1000
local capacity = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
if now > at then
  tokens = math.min(capacity, tokens + (now - at) * per_ms)
end

local spent = 0
if tokens >= 1 then
  tokens = tokens - 1
  spent = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return spent
`

// TokenBucket spends tokens from redis-held buckets that refill at a fixed
// rate up to burst.
type TokenBucket struct {
	client *redis.Client
	spend  *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, spend: redis.NewScript(spendTokenScript)}
}

// Allow spends one token from key's bucket and reports whether one was left.
// rate is tokens per second.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (bool, error) {
	switch {
	case t == nil:
		return false, errors.New("token bucket not configured")
	case key == "":
		return false, errors.New("token bucket key is empty")
	case rate <= 0 || burst <= 0:
		return false, fmt.Errorf("token bucket needs positive rate and burst, got %v/%d", rate, burst)
	}

	spent, err := t.spend.Run(ctx, t.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("spend token: %w", err)
	}
	return spent == 1, nil
}

// bucketTTL keeps an idle bucket for twice its full refill time. A bucket
// that expires is indistinguishable from a full one.
func bucketTTL(rate float64, burst int) time.Duration {
	refill := math.Ceil(2 * float64(burst) / rate)
	return time.Duration(math.Max(refill, 1)) * time.Second
}
