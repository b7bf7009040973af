// Package redis provides a thin wrapper around go-redis/v9 for the keyspace
// that holds document objects: hash reads and writes, key removal and
// keyspace-notification subscriptions.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
	db  int
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb, db: cfg.DB}, nil
}

// HSet writes the given field/value pairs into the hash at key.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return c.rdb.HSet(ctx, key, values...).Err()
}

// HGetAll returns every field of the hash at key. A missing key yields an
// empty map and no error.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// Del deletes one or more keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}

// KeyType returns the Redis type of key ("hash", "string", "none", ...).
func (c *Client) KeyType(ctx context.Context, key string) (string, error) {
	return c.rdb.Type(ctx, key).Result()
}

// EnableKeyspaceEvents turns on generic and hash keyspace notifications.
func (c *Client) EnableKeyspaceEvents(ctx context.Context) error {
	return c.rdb.ConfigSet(ctx, "notify-keyspace-events", "Kgh").Err()
}

// SubscribeKeyspace subscribes to keyspace notifications for every key of
// the configured database. The caller closes the returned PubSub.
func (c *Client) SubscribeKeyspace(ctx context.Context) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, fmt.Sprintf("__keyspace@%d__:*", c.db))
}

// KeyspacePrefix is the channel prefix of keyspace notifications for the
// configured database.
func (c *Client) KeyspacePrefix() string {
	return fmt.Sprintf("__keyspace@%d__:", c.db)
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
