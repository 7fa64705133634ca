package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore is a DurableStore backed by Redis. Values are stored as JSON
// with Redis' native key TTL, so expiry needs no read-side enforcement.
type RedisStore[V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a new RedisStore. It pings the Redis
// server to ensure connectivity before returning.
func NewRedisStore[V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore[V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore[V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// Get retrieves the value for key, or ErrNotFound on a miss.
func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	cachedData, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		return zero, fmt.Errorf("redis get for %s: %w", key, err)
	}

	var value V
	if err := json.Unmarshal([]byte(cachedData), &value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached data.")
		return zero, fmt.Errorf("unmarshal payload for %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", key, err)
	}

	if err := s.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set data in Redis.")
		return fmt.Errorf("redis set for %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *RedisStore[V]) Delete(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete for %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore[V]) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
