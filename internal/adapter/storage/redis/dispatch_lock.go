package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose TTL lapsed cannot release a successor's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DispatchLock implements ports.DispatchLocker with SET NX PX.
type DispatchLock struct {
	client goredis.Cmdable
	prefix string
}

// NewDispatchLock creates a Redis-backed dispatch lock.
func NewDispatchLock(client goredis.Cmdable) *DispatchLock {
	return &DispatchLock{
		client: client,
		prefix: "lock:",
	}
}

// Acquire takes key for ttl. ok is false when someone else holds it.
func (l *DispatchLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	result, err := l.client.SetArgs(ctx, redisKey, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis dispatch lock: %w", err)
	}
	if result != "OK" {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("redis dispatch unlock: %w", err)
		}
		return nil
	}
	return release, true, nil
}
