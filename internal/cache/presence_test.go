package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) *PresenceCache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration tests")
	}
	c, err := NewPresenceCache(context.Background(), Options{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPresenceCacheOnlineOffline(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()
	user := uuid.NewString()

	online, err := c.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, c.SetOnline(ctx, user))
	require.NoError(t, c.Refresh(ctx, user))
	online, err = c.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)

	_, ok, err := c.LastSeen(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	seen := time.Now().Truncate(time.Millisecond)
	require.NoError(t, c.SetOffline(ctx, user, seen))

	online, err = c.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)

	got, ok, err := c.LastSeen(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(seen))
}

func TestNewPresenceCacheUnreachable(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration tests")
	}
	_, err := NewPresenceCache(context.Background(), Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestPresenceCacheKeepAlive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration tests")
	}
	c, err := NewPresenceCache(context.Background(), Options{Addr: addr, TTL: 400 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	user := uuid.NewString()
	require.NoError(t, c.SetOnline(ctx, user))

	done := make(chan struct{})
	go func() {
		c.KeepAlive(ctx, func() []string { return []string{user} })
		close(done)
	}()

	time.Sleep(time.Second)
	online, err := c.IsOnline(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, online, "refreshed marker should outlive its TTL")

	cancel()
	<-done
}
