package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/model"
)

const (
	snapshotKey      = "vmc:snapshot:last"
	capteurKeyPrefix = "vmc:capteur:last:"
)

// RedisCache keeps the latest snapshot and the latest value of each sensor.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, cfg *config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

func (c *RedisCache) Name() string {
	return "redis"
}

func (c *RedisCache) Consume(ctx context.Context, snapshot *model.Snapshot) error {
	data, err := snapshot.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, snapshotKey, data, c.ttl)
	for _, r := range snapshot.Readings {
		pipe.Set(ctx, CapteurKey(r.CapteurID), r.Value, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// Latest returns the cached snapshot, or nil when nothing is cached.
func (c *RedisCache) Latest(ctx context.Context) (*model.Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached snapshot: %w", err)
	}

	snapshot, err := model.SnapshotFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return snapshot, nil
}

// LatestValue returns the last cached value of one sensor.
func (c *RedisCache) LatestValue(ctx context.Context, capteurID int) (float64, bool, error) {
	raw, err := c.client.Get(ctx, CapteurKey(capteurID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached value: %w", err)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse cached value %q: %w", raw, err)
	}
	return v, true, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func CapteurKey(capteurID int) string {
	return capteurKeyPrefix + strconv.Itoa(capteurID)
}
