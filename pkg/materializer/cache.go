package materializer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache maps reference identities to the address they were materialized at.
type Cache interface {
	Get(ctx context.Context, identity string) (models.Address, bool, error)
	Set(ctx context.Context, identity string, addr models.Address) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.Address
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.Address)}
}

func (c *MemoryCache) Get(_ context.Context, identity string) (models.Address, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	addr, ok := c.entries[identity]

	return addr, ok, nil
}

// Set keeps the first address recorded for an identity.
func (c *MemoryCache) Set(_ context.Context, identity string, addr models.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[identity]; !exists {
		c.entries[identity] = addr
	}

	return nil
}

// Len returns the number of cached identities.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// RedisCache shares the identity cache between monitor processes writing the
// same content tree.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache storing keys as <prefix><identity>. A zero
// ttl keeps entries forever.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL and connects a RedisCache to it.
func NewRedisCacheFromURL(ctx context.Context, url, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCache(client, prefix, 0), nil
}

func (c *RedisCache) Get(ctx context.Context, identity string) (models.Address, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+identity).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to read cache entry %s: %w", identity, err)
	}

	return models.Address(value), true, nil
}

// Set keeps the first address recorded for an identity.
func (c *RedisCache) Set(ctx context.Context, identity string, addr models.Address) error {
	err := c.client.SetNX(ctx, c.prefix+identity, string(addr), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", identity, err)
	}

	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
