// Package cache provides a tiny Redis client wrapper for inpainting results
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client for encoded output images
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Key derives the cache key for one encoded photo and mask pair
func Key(image, mask []byte) string {
	h := sha256.New()
	// Length prefix keeps (a, bc) and (ab, c) apart.
	fmt.Fprintf(h, "%d:", len(image))
	h.Write(image)
	h.Write(mask)
	return "inpaint:" + hex.EncodeToString(h.Sum(nil))
}

// SetResult stores an encoded output image under key
func (c *Cache) SetResult(ctx context.Context, key string, png []byte) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	if err := c.client.Set(ctx, key, png, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set result %s: %w", key, err)
	}

	return nil
}

// GetResult retrieves an encoded output image. A miss returns nil, nil.
func (c *Cache) GetResult(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Key does not exist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result %s: %w", key, err)
	}

	return data, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}
