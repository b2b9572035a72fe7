// Package tokencache provides a Redis read-through cache for access tokens,
// keyed by the sha256 hash of the token value so raw tokens never reach Redis.
package tokencache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when the token is not cached.
var ErrMiss = errors.New("token not cached")

// Entry is the cached view of an access token.
type Entry struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Cache struct {
	client *redis.Client
	prefix string
}

func New(redisURL string) (*Cache, error) {
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
	return &Cache{client: client, prefix: "access:"}, nil
}

func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "access:"}
}

func (c *Cache) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s%x", c.prefix, sum)
}

// Put caches the token until its expiry. Already-expired tokens are skipped.
func (c *Cache) Put(ctx context.Context, token string, entry Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache access token: %w", err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, token string) (Entry, error) {
	data, err := c.client.Get(ctx, c.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup access token: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return entry, nil
}

// Invalidate drops a token from the cache, for use when a pair is rotated.
func (c *Cache) Invalidate(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, c.key(token)).Err(); err != nil {
		return fmt.Errorf("invalidate access token: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
