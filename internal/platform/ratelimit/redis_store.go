package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore implements Store using Redis INCR/PEXPIRE and PTTL.
type redisStore struct{ rc redis.Scripter }

// NewRedisStore creates a Store backed by an existing Redis client.
func NewRedisStore(rc redis.Scripter) Store {
	return &redisStore{rc: rc}
}

var luaFixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then redis.call('PEXPIRE', KEYS[1], ARGV[1]) end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	// namespace keys for safety
	k := "rl:" + key
	res, err := luaFixedWindow.Run(ctx, s.rc, []string{k}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 2 {
		return Decision{Allowed: true}, nil
	}
	current, ttlms := res[0], res[1]
	if ttlms < 0 {
		ttlms = window.Milliseconds()
	}
	return Decision{
		Allowed: current <= int64(limit),
		Count:   int(current),
		ResetAt: time.Now().Add(time.Duration(ttlms) * time.Millisecond),
	}, nil
}
