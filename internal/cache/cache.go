// Package cache stores computed report payloads for a short TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/jellydator/ttlcache/v3"
)

// Cache stores JSON-encodable values. Get reports false on a miss.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps a connected client. Keys are namespaced with prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (c *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *Redis) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Memory is the in-process fallback used when Redis is not configured.
// Values are held as JSON so callers never share a decoded report.
type Memory struct {
	items *ttlcache.Cache[string, []byte]
}

// NewMemory holds at most capacity keys, evicting the least recently used.
// Zero means no limit.
func NewMemory(capacity uint64) *Memory {
	return &Memory{items: ttlcache.New[string, []byte](
		ttlcache.WithCapacity[string, []byte](capacity),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)}
}

func (c *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	it := c.items.Get(key)
	if it == nil {
		return false, nil
	}
	if err := json.Unmarshal(it.Value(), dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// Set is a no-op for ttl <= 0.
func (c *Memory) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	c.items.DeleteExpired()
	c.items.Set(key, b, ttl)
	return nil
}

// Len counts stored keys, including expired ones not yet swept.
func (c *Memory) Len() int { return c.items.Len() }

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
