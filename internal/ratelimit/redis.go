package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript performs the fixed-window step in one round trip so the
// increment and the comparison cannot interleave between hub processes.
// KEYS[1] window hash; ARGV now ms, limit, window ms.
// Returns {count, reset_at_ms, allowed}.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'count', 'reset')
local count = tonumber(state[1])
local reset = tonumber(state[2])

if count == nil or reset == nil or now > reset then
	reset = now + window
	redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
	redis.call('PEXPIRE', KEYS[1], window * 2)
	return {1, reset, 1}
end

if count >= limit then
	return {count, reset, 0}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset, 1}
`)

// RedisWindows keeps windows in Redis hashes. Stale windows expire after
// twice the window length.
type RedisWindows struct {
	client *redis.Client
	prefix string
}

// NewRedisWindows creates a Redis-backed window store.
func NewRedisWindows(client *redis.Client) *RedisWindows {
	return &RedisWindows{client: client, prefix: "hub:ratelimit:"}
}

// Hit runs the fixed-window script for key.
func (r *RedisWindows) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error) {
	res, err := hitScript.Run(ctx, r.client,
		[]string{r.windowKey(key)},
		now.UnixMilli(), limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	return Window{
		Count:   int(res[0]),
		ResetAt: time.UnixMilli(res[1]),
	}, res[2] == 1, nil
}

// windowKey names the hash for key. Keys are API keys, so only their digest
// is written to Redis.
func (r *RedisWindows) windowKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return r.prefix + hex.EncodeToString(sum[:])
}
