package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	l := NewTokenBucketLimiter(3, 100*time.Millisecond)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "conn")
		assert.True(t, ok, "burst request %d", i)
	}
	ok, _ := l.Allow(ctx, "conn")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(250 * time.Millisecond)
	ok, _ = l.Allow(ctx, "conn")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "conn")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "conn")
	assert.False(t, ok)

	_ = l.Reset(ctx, "conn")
	ok, _ = l.Allow(ctx, "conn")
	assert.True(t, ok)
}

func TestSlidingWindowLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	l := NewSlidingWindowLimiter(2, time.Second)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow(ctx, "ip")
	assert.True(t, ok)
	now = now.Add(100 * time.Millisecond)
	ok, _ = l.Allow(ctx, "ip")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "ip")
	assert.False(t, ok)

	now = now.Add(950 * time.Millisecond)
	ok, _ = l.Allow(ctx, "ip")
	assert.True(t, ok, "first request left the window")

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, l.Prune())
}
