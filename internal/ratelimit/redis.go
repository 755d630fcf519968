package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "smartlink:odesli:window"

var errMissingRedisClient = errors.New("ratelimit: redis client required")

// fixedWindowScript increments the window counter, starting the window on the first call.
// It returns the counter value and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisFixedWindowConfig configures a limiter whose counter lives in Redis so that every
// process shares one window.
type RedisFixedWindowConfig struct {
	Client redis.Scripter
	Key    string
	Limit  int
	Window time.Duration
}

// RedisFixedWindow is the shared-store variant of FixedWindow.
type RedisFixedWindow struct {
	client redis.Scripter
	key    string
	limit  int
	window time.Duration
}

// NewRedisFixedWindow constructs a Redis-backed limiter.
func NewRedisFixedWindow(cfg RedisFixedWindowConfig) (*RedisFixedWindow, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	if window < 0 {
		return nil, ErrInvalidWindow
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisFixedWindow{client: cfg.Client, key: key, limit: limit, window: window}, nil
}

// Allow increments the shared counter and admits the call while it stays within the limit.
func (l *RedisFixedWindow) Allow(ctx context.Context) (Decision, error) {
	values, err := fixedWindowScript.Run(ctx, l.client, []string{l.key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis window: %w", err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", values)
	}
	if values[0] <= int64(l.limit) {
		return Decision{Allowed: true}, nil
	}
	retryAfter := time.Duration(values[1]) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}
