package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"crisiswatch/internal/constants"
)

// Cache tracks which event IDs have already entered the pipeline. MarkSeen
// returns true on the first sighting of an ID; a second call within the TTL
// returns false.
type Cache interface {
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	CacheSize(ctx context.Context) (int, error)
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) Cache {
	return &RedisCache{client: client}
}

func (c *RedisCache) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := constants.CacheKeyPrefixSeen + eventID
	first, err := c.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return first, nil
}

func (c *RedisCache) CacheSize(ctx context.Context) (int, error) {
	iter := c.client.Scan(ctx, 0, constants.CacheKeyPrefixSeen+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

// LocalCache is the single-process fallback used when Redis is not
// configured. Entries expire lazily on lookup.
type LocalCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewLocalCache() Cache {
	return &LocalCache{seen: make(map[string]time.Time)}
}

func (c *LocalCache) MarkSeen(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if expiry, ok := c.seen[eventID]; ok && now.Before(expiry) {
		return false, nil
	}
	c.seen[eventID] = now.Add(ttl)
	return true, nil
}

func (c *LocalCache) CacheSize(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, expiry := range c.seen {
		if now.After(expiry) {
			delete(c.seen, id)
		}
	}
	return len(c.seen), nil
}
