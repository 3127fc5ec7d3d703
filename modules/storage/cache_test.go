package storage

import (
	"context"
	"testing"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache connects to a local Redis or skips the test.
func newTestCache(t *testing.T) *HistoryCache {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	prefix := "test:" + t.Name() + ":"
	cache := NewHistoryCache(client, prefix, time.Minute)
	t.Cleanup(func() {
		_ = cache.InvalidateRoom(context.Background(), "lobby")
		_ = cache.Close()
	})
	return cache
}

func TestHistoryCache_GetSet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := historyKey("lobby", 50)

	var got []domain.Message
	found, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)

	want := []domain.Message{{ID: 1, UserID: 7, RoomName: "lobby", Message: "hello"}}
	require.NoError(t, cache.Set(ctx, key, want))

	found, err = cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", got[0].Message)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, float64(50), stats.HitRate)
}

func TestHistoryCache_InvalidateRoom(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, historyKey("lobby", 10), []domain.Message{}))
	require.NoError(t, cache.Set(ctx, historyKey("lobby", 50), []domain.Message{}))
	require.NoError(t, cache.InvalidateRoom(ctx, "lobby"))

	var got []domain.Message
	for _, limit := range []int{10, 50} {
		found, err := cache.Get(ctx, historyKey("lobby", limit), &got)
		require.NoError(t, err)
		assert.False(t, found)
	}
}

func TestService_MessagesUsesCache(t *testing.T) {
	cache := newTestCache(t)
	svc := NewService(NewRepository(setupTestDB(t)), nil, cache, &mockLogger{})
	ctx := context.Background()

	require.NoError(t, svc.SaveMessage(ctx, domain.Message{UserID: 1, RoomName: "lobby", Message: "a", Time: time.Now()}))

	_, cached, err := svc.Messages(ctx, "lobby", 10)
	require.NoError(t, err)
	assert.False(t, cached)

	messages, cached, err := svc.Messages(ctx, "lobby", 10)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, messages, 1)

	// A new message invalidates the cached history.
	require.NoError(t, svc.SaveMessage(ctx, domain.Message{UserID: 1, RoomName: "lobby", Message: "b", Time: time.Now()}))
	messages, cached, err = svc.Messages(ctx, "lobby", 10)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, messages, 2)
}
