package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocker()
	l.clock = func() time.Time { return now }

	release, ok, err := l.Acquire(ctx, "payout:dispatch:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "payout:dispatch:1", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.Acquire(ctx, "payout:dispatch:1", time.Minute)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, release(ctx))
	_, ok, _ = l.Acquire(ctx, "payout:dispatch:1", time.Minute)
	assert.False(t, ok, "stale release must not free the new holder")
}

func TestEventCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewEventCache()
	c.clock = func() time.Time { return now }

	seen, _ := c.Seen(ctx, "k")
	assert.False(t, seen)
	require.NoError(t, c.Mark(ctx, "k", time.Hour))
	seen, _ = c.Seen(ctx, "k")
	assert.True(t, seen)

	now = now.Add(time.Hour)
	seen, _ = c.Seen(ctx, "k")
	assert.False(t, seen)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	r := NewRateLimiter()
	r.clock = func() time.Time { return now }

	for i := int64(1); i <= 2; i++ {
		res, err := r.Allow(ctx, "m1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}
	res, _ := r.Allow(ctx, "m1", 2, time.Minute)
	assert.False(t, res.Allowed)

	now = now.Add(time.Minute)
	res, _ = r.Allow(ctx, "m1", 2, time.Minute)
	assert.True(t, res.Allowed, "new window resets the count")
}
