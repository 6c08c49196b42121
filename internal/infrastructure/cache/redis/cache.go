package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// Cache stores retrieval results in Redis, sharing cached responses across
// service replicas. TTL enforcement is delegated to Redis key expiry.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func New(cfg Config) *Cache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "medkg:retrieve:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return &Cache{client: client, keyPrefix: cfg.KeyPrefix}
}

func (c *Cache) Get(ctx context.Context, key string) (*ports.CachedResult, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var value ports.CachedResult
	if err := json.Unmarshal(data, &value); err != nil {
		// A decode failure means a format change between deploys; treat
		// it as a miss rather than surfacing it.
		return nil, nil
	}
	return &value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value ports.CachedResult, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
