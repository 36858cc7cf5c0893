package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronik/backend/internal/application/sourcing"
	"github.com/redis/go-redis/v9"
)

// RedisIdentityCache implements sourcing.IdentityCache using Redis.
// This is suitable for distributed deployments where multiple instances
// benefit from sharing reconstructed aggregate state.
type RedisIdentityCache struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisIdentityCache creates a new Redis-backed identity cache
func NewRedisIdentityCache(cfg RedisConfig) (*RedisIdentityCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIdentityCache{
		client:    client,
		keyPrefix: "aggregate:identity:",
	}, nil
}

// NewRedisIdentityCacheWithClient creates a cache with an existing Redis
// client. This is useful for testing or when sharing a client across
// components.
func NewRedisIdentityCacheWithClient(client *redis.Client, keyPrefix string) *RedisIdentityCache {
	if keyPrefix == "" {
		keyPrefix = "aggregate:identity:"
	}
	return &RedisIdentityCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get returns the cached entry for a stream, or (nil, nil) on a miss
func (c *RedisIdentityCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read identity cache: %w", err)
	}
	return raw, nil
}

// Set stores a cache entry with a TTL. A zero TTL means no expiration.
func (c *RedisIdentityCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write identity cache: %w", err)
	}
	return nil
}

// Delete invalidates a cache entry. Deleting an absent key is not an error.
func (c *RedisIdentityCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate identity cache: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (c *RedisIdentityCache) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying Redis client (for testing/monitoring)
func (c *RedisIdentityCache) GetClient() *redis.Client {
	return c.client
}

// Ensure RedisIdentityCache implements sourcing.IdentityCache
var _ sourcing.IdentityCache = (*RedisIdentityCache)(nil)
