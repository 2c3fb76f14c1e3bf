package repository

import (
	"context"
	"fmt"
	"time"

	"streamcast/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a redis client from the configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisEnablementRepository stores platform toggles in redis with a
// TTL, so multiple engine instances observe the same toggle state.
type RedisEnablementRepository struct {
	client   *redis.Client
	defaults map[string]bool
	ttl      time.Duration
}

func NewRedisEnablementRepository(client *redis.Client, defaults map[string]bool, ttl time.Duration) *RedisEnablementRepository {
	if defaults == nil {
		defaults = make(map[string]bool)
	}
	return &RedisEnablementRepository{
		client:   client,
		defaults: defaults,
		ttl:      ttl,
	}
}

func (r *RedisEnablementRepository) key(platform string) string {
	return fmt.Sprintf("platform_enabled:%s", platform)
}

func (r *RedisEnablementRepository) IsEnabled(ctx context.Context, platform string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	val, err := r.client.Get(ctx, r.key(platform)).Result()
	if err == redis.Nil {
		return r.defaults[platform], nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get enablement from redis: %w", err)
	}
	return val == "1", nil
}

func (r *RedisEnablementRepository) SetEnabled(ctx context.Context, platform string, enabled bool) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	val := "0"
	if enabled {
		val = "1"
	}
	if err := r.client.Set(ctx, r.key(platform), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set enablement in redis: %w", err)
	}
	return nil
}

// Ping verifies the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
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
