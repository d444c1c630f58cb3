package memory

import (
	"context"
	"sync"
	"time"

	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// Locker implements ports.DispatchLocker for a single process.
type Locker struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// NewLocker creates an in-process locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]lease), clock: time.Now}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[key] = lease{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}

// EventCache implements ports.IdempotencyCache for a single process.
type EventCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	clock   func() time.Time
}

// NewEventCache creates an in-process applied-event cache.
func NewEventCache() *EventCache {
	return &EventCache{expires: make(map[string]time.Time), clock: time.Now}
}

func (c *EventCache) Seen(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.expires[key]
	if !ok {
		return false, nil
	}
	if !c.clock().Before(exp) {
		delete(c.expires, key)
		return false, nil
	}
	return true, nil
}

func (c *EventCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires[key] = c.clock().Add(ttl)
	return nil
}

// RateLimiter implements ports.RateLimiter with fixed windows kept in memory.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	clock   func() time.Time
}

type window struct {
	id    int64
	count int64
}

// NewRateLimiter creates an in-process rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]window), clock: time.Now}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, size time.Duration) (*ports.RateLimitResult, error) {
	secs := max(int64(size.Seconds()), 1)
	id := r.clock().Unix() / secs

	r.mu.Lock()
	w := r.windows[key]
	if w.id != id {
		w = window{id: id}
	}
	w.count++
	r.windows[key] = w
	r.mu.Unlock()

	return &ports.RateLimitResult{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: max(limit-w.count, 0),
		ResetAt:   (id + 1) * secs,
	}, nil
}
