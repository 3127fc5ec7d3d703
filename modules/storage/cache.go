package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// HistoryCache caches room message history in Redis (cache-aside).
type HistoryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  cacheStats
}

type cacheStats struct {
	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errors  atomic.Uint64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// NewHistoryCache creates a history cache.
func NewHistoryCache(client *redis.Client, prefix string, ttl time.Duration) *HistoryCache {
	return &HistoryCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func historyKey(roomName string, limit int) string {
	return fmt.Sprintf("history:%s:%d", roomName, limit)
}

// Get loads a cached value into dest. It reports whether the key was found.
func (c *HistoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.stats.misses.Add(1)
			return false, nil
		}
		c.stats.errors.Add(1)
		return false, fmt.Errorf("cache get error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.stats.errors.Add(1)
		return false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	c.stats.hits.Add(1)
	return true, nil
}

// Set stores a value with the default TTL.
func (c *HistoryCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache set error: %w", err)
	}
	c.stats.sets.Add(1)
	return nil
}

// InvalidateRoom removes every cached history page of a room.
func (c *HistoryCache) InvalidateRoom(ctx context.Context, roomName string) error {
	pattern := c.prefix + fmt.Sprintf("history:%s:*", roomName)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.stats.errors.Add(1)
			return fmt.Errorf("cache scan error: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.stats.errors.Add(1)
				return fmt.Errorf("cache delete error: %w", err)
			}
			c.stats.deletes.Add(uint64(len(keys)))
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats returns the current counters.
func (c *HistoryCache) Stats() CacheStats {
	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.stats.sets.Load(),
		Deletes: c.stats.deletes.Load(),
		Errors:  c.stats.errors.Load(),
		HitRate: hitRate,
	}
}

// Ping checks the Redis connection.
func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *HistoryCache) Close() error {
	return c.client.Close()
}
