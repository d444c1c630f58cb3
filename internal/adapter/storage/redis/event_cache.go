package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventCache implements ports.IdempotencyCache. A marker only short-circuits
// redelivered webhooks; the webhook_events table decides what was applied.
type EventCache struct {
	client goredis.Cmdable
	prefix string
}

// NewEventCache creates a Redis-backed applied-event cache.
func NewEventCache(client goredis.Cmdable) *EventCache {
	return &EventCache{
		client: client,
		prefix: "webhook:",
	}
}

// Seen reports whether key was marked and has not expired.
func (c *EventCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis event cache exists: %w", err)
	}
	return n == 1, nil
}

// Mark records key for ttl.
func (c *EventCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis event cache set: %w", err)
	}
	return nil
}
