package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the window counter, arms the expiry on the first hit
// and returns {count, remaining ttl in ms}.
var hitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore shares counters between instances. Key expiry closes windows,
// so Sweep has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ CounterStore = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("failed to record attempt: %w", err)
	}
	if len(res) != 2 {
		return Counter{}, fmt.Errorf("unexpected limiter script reply: %v", res)
	}

	resetAt := now.Add(time.Duration(res[1]) * time.Millisecond)
	return Counter{
		Count:       int(res[0]),
		WindowStart: resetAt.Add(-window),
		ResetAt:     resetAt,
	}, nil
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Close leaves the client open; it is owned by the caller
func (s *RedisStore) Close() error {
	return nil
}
