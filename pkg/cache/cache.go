package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned when a key is not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

// Cache is a shared key/value store for values that are expensive to fetch.
type Cache interface {
	// Get decodes the value stored under key into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value with TTL; zero TTL uses the cache default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error

	Close() error
}

// Codec defines the interface for encoding/decoding cache values
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Options configures a cache
type Options struct {
	DefaultTTL time.Duration

	// Namespace is a prefix for all cache keys
	Namespace string

	Codec Codec
}

// Key joins parts with the ':' separator redis tooling expects.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
