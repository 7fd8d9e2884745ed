package repository

import (
	"context"
	"fmt"
	"time"

	"slotter/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisBlockCache keeps the per-service blocked flag and API rate-limit
// counters in redis.
type RedisBlockCache struct {
	client *redis.Client
}

// NewRedisClient builds a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisBlockCache(client *redis.Client) *RedisBlockCache {
	return &RedisBlockCache{client: client}
}

func blockKey(serviceID int64) string {
	return fmt.Sprintf("service_block:%d", serviceID)
}

// GetBlocked reads the cached flag. found=false means a cache miss, not an
// unblocked service.
func (r *RedisBlockCache) GetBlocked(ctx context.Context, serviceID int64) (bool, bool, error) {
	if r.client == nil {
		return false, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, blockKey(serviceID)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get block flag from redis: %w", err)
	}
	return val == "1", true, nil
}

func (r *RedisBlockCache) SetBlocked(ctx context.Context, serviceID int64, blocked bool, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	val := "0"
	if blocked {
		val = "1"
	}
	if err := r.client.Set(ctx, blockKey(serviceID), val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set block flag in redis: %w", err)
	}
	return nil
}

func (r *RedisBlockCache) Invalidate(ctx context.Context, serviceID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, blockKey(serviceID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate block flag in redis: %w", err)
	}
	return nil
}

// CheckRateLimit is a fixed-window counter keyed by caller identity.
func (r *RedisBlockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := "rate_limit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}
	return count <= int64(limit), nil
}

// Ping verifies the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
