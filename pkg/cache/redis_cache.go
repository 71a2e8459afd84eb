package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tegendraads/registry/pkg/codec"
)

// RedisCache implements Cache interface using Redis
type RedisCache struct {
	client  *redis.Client
	options Options
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(client *redis.Client, opts Options) *RedisCache {
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = time.Hour
	}

	return &RedisCache{
		client:  client,
		options: opts,
	}
}

// Get decodes the value at key into dest. A missing key yields ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get error: %w", err)
	}

	if err := c.options.Codec.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

// Set stores value at key
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := c.options.Codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	if ttl == 0 {
		ttl = c.options.DefaultTTL
	}

	if err := c.client.Set(ctx, c.buildKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) buildKey(key string) string {
	if c.options.Namespace == "" {
		return key
	}
	return Key(c.options.Namespace, key)
}
