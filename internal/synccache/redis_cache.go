// Package synccache provides a Redis-backed cache of recently synced remote
// comment IDs. It is a fast path only: the sync-record table and its unique
// constraint remain the source of truth for idempotency.
package synccache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "synced:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(commentID string) string {
	return c.prefix + commentID
}

// Seen reports whether the comment ID was marked recently. Errors count as
// unseen so a Redis outage only costs a store lookup.
func (c *RedisCache) Seen(ctx context.Context, commentID string) bool {
	exists, err := c.client.Exists(ctx, c.key(commentID)).Result()
	if err != nil {
		log.Printf("synccache: exists check failed for %s: %v", commentID, err)
		return false
	}
	return exists > 0
}

// MarkSeen records the comment ID with the configured TTL. Best effort.
func (c *RedisCache) MarkSeen(ctx context.Context, commentID string) {
	if err := c.client.Set(ctx, c.key(commentID), "1", c.ttl).Err(); err != nil {
		log.Printf("synccache: mark seen failed for %s: %v", commentID, err)
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
