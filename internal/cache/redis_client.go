// Package cache wraps Redis for the pipeline's run-scoped caching
// needs: the embedding cache that backs dedup layer 2 (§4.8 C9), the
// per-API fixed-window rate limiters (§6), and the scout-lock that
// keeps two scheduler runs from racing the same region.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection with the pipeline's caching helpers.
type Client struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewClient creates a Redis client from connection parameters.
func NewClient(ctx context.Context, host string, port int, password string) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("redis host missing")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "redis")
	logger.Info("redis client connected", "addr", addr)

	return &Client{
		client: client,
		logger: logger,
		ttl:    15 * time.Minute,
	}, nil
}

// Close closes the Redis client connection.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis client closed")
	return nil
}

// HealthCheck verifies Redis connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get retrieves a cached value by key and unmarshals into target.
// Returns false on a cache miss, which is not an error.
func (c *Client) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set stores a value in cache with the client's default TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL.
func (c *Client) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache set", "key", key, "ttl", ttl)
	return nil
}

// Delete removes a key from cache.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache delete", "key", key)
	return nil
}

// DeletePattern deletes all keys matching a pattern.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error
		batch, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan failed for pattern %s: %w", pattern, err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		c.logger.Debug("no keys matched pattern", "pattern", pattern)
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed for pattern %s: %w", pattern, err)
	}

	c.logger.Info("cache pattern delete", "pattern", pattern, "deleted", deleted)
	return deleted, nil
}

// EmbeddingCacheKey generates the cache key for a content hash's
// embedding vector — dedup layer 2 of the dedup cascade (§4.8).
func EmbeddingCacheKey(contentHash string) string {
	return fmt.Sprintf("embedding:%s", contentHash)
}

// GetEmbedding returns a cached embedding vector for the given content
// hash, or found=false on a miss.
func (c *Client) GetEmbedding(ctx context.Context, contentHash string) (vector []float32, found bool, err error) {
	found, err = c.Get(ctx, EmbeddingCacheKey(contentHash), &vector)
	return vector, found, err
}

// SetEmbedding caches an embedding vector for a content hash for the
// lifetime of one run — it exists only to avoid re-embedding the same
// title+summary twice within a batch, not as a durable store.
func (c *Client) SetEmbedding(ctx context.Context, contentHash string, vector []float32) error {
	return c.SetWithTTL(ctx, EmbeddingCacheKey(contentHash), vector, c.ttl)
}

// RateLimitKey generates the fixed-window counter key for an API or
// IP bucket (§6).
func RateLimitKey(bucket string) string {
	return fmt.Sprintf("ratelimit:%s", bucket)
}

// Allow implements a fixed-window rate limiter over a Redis counter:
// INCR the window's bucket, set its expiry on first touch, and compare
// against limit. Used for per-IP public-write limits and tiered
// search-API budgets (§6, C4).
func (c *Client) Allow(ctx context.Context, bucket string, limit int64, window time.Duration) (bool, error) {
	key := RateLimitKey(bucket)

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr failed for %s: %w", bucket, err)
	}

	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire failed for %s: %w", bucket, err)
		}
	}

	return count <= limit, nil
}

// ScoutLockKey generates the distributed lock key for a region, used
// to keep two scheduler runs from racing the same region's sources.
func ScoutLockKey(region string) string {
	return fmt.Sprintf("scoutlock:%s", region)
}

// AcquireScoutLock attempts to take the scout lock for a region with a
// TTL safety net in case the holding process crashes mid-run. Returns
// false if another run already holds it.
func (c *Client) AcquireScoutLock(ctx context.Context, region, runID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, ScoutLockKey(region), runID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("scout lock acquire failed for %s: %w", region, err)
	}
	return ok, nil
}

// ReleaseScoutLock releases the scout lock for a region, but only if
// the caller still holds it (runID matches) — prevents a slow run from
// releasing a lock a later run has since acquired.
func (c *Client) ReleaseScoutLock(ctx context.Context, region, runID string) error {
	current, err := c.client.Get(ctx, ScoutLockKey(region)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scout lock read failed for %s: %w", region, err)
	}
	if current != runID {
		return nil
	}
	return c.Delete(ctx, ScoutLockKey(region))
}
