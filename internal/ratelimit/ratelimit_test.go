package ratelimit

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryAllow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	ok, _ := m.Allow(ctx, "a", time.Second)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a", time.Second)
	assert.False(t, ok)
	ok, _ = m.Allow(ctx, "b", time.Second)
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = m.Allow(ctx, "a", time.Second)
	assert.True(t, ok)

	ok, _ = m.Allow(ctx, "a", 0)
	assert.True(t, ok)
}

func TestMemoryPrunesOncePerInterval(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	m := NewMemory()
	m.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		ok, _ := m.Allow(ctx, "sub:"+strconv.Itoa(i), time.Second)
		require.True(t, ok)
	}

	// ключи истекли, но время чистки ещё не пришло
	now = start.Add(2 * time.Second)
	_, _ = m.Allow(ctx, "late", time.Second)
	assert.Len(t, m.until, 1001)

	now = start.Add(pruneInterval)
	_, _ = m.Allow(ctx, "fresh", time.Second)
	assert.Len(t, m.until, 1)
	assert.Contains(t, m.until, "fresh")
	assert.Equal(t, now.Add(pruneInterval), m.nextPrune)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	c := NewCommands(NewMemory(), map[string]time.Duration{"/status": time.Minute}, time.Minute,
		func(id int64) bool { return id == 1 }, zap.NewNop())

	assert.False(t, c.IsLimited(ctx, 5, "/status"))
	assert.True(t, c.IsLimited(ctx, 5, "/status"))
	assert.False(t, c.IsLimited(ctx, 5, "/help"))
	assert.False(t, c.IsLimited(ctx, 6, "/status"))

	assert.False(t, c.IsLimited(ctx, 1, "/status"))
	assert.False(t, c.IsLimited(ctx, 1, "/status"))

	failOpen := NewCommands(brokenLimiter{}, nil, time.Minute, nil, zap.NewNop())
	assert.False(t, failOpen.IsLimited(ctx, 5, "/status"))
}

func TestRedisAllow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r, err := NewRedis(addr, os.Getenv("REDIS_PASSWORD"), 0, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	ok, err := r.Allow(context.Background(), key, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Allow(context.Background(), key, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
