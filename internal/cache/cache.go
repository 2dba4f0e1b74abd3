// Package cache wraps the redis connection the API uses for receipt PDFs,
// webhook idempotency records and short-lived processing locks. Every key is
// namespaced as "{prefix}:{kind}:{id}" so several deployments can share one
// redis database.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sparkcreatives/spark-portal/internal/config"
)

// ErrMiss is returned when a key is absent.
var ErrMiss = errors.New("cache miss")

const defaultPrefix = "spark"

// Cache is a thin, prefix-aware wrapper around a redis client.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

// New connects to the redis instance named by cfg.URL. The connection is
// lazy; use Ping to verify reachability.
func New(cfg *config.CacheConfig) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache url: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	if cfg.SocketTimeout > 0 {
		opts.DialTimeout = cfg.SocketTimeout
		opts.ReadTimeout = cfg.SocketTimeout
		opts.WriteTimeout = cfg.SocketTimeout
	}
	return NewWithClient(redis.NewClient(opts), cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{rdb: rdb, prefix: prefix}
}

// Client exposes the underlying redis client for rate limiting and pool
// statistics.
func (c *Cache) Client() *redis.Client { return c.rdb }

// Prefix returns the namespace every key starts with.
func (c *Cache) Prefix() string { return c.prefix }

// Key builds a namespaced key.
func (c *Cache) Key(kind, id string) string {
	return c.prefix + ":" + kind + ":" + id
}

// Ping checks that redis answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the raw value for kind/id, or ErrMiss.
func (c *Cache) Get(ctx context.Context, kind, id string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, c.Key(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", kind, err)
	}
	return b, nil
}

// Set stores value for kind/id with the given expiry.
func (c *Cache) Set(ctx context.Context, kind, id string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.Key(kind, id), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", kind, err)
	}
	return nil
}
