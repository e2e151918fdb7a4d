package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

// RedisConfig describes the Redis connection for the shared cache store
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisStore is a Redis-backed response cache shared across processes.
// Responses are stored as JSON with the key's TTL enforced by Redis.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// Get retrieves a response by fingerprint. Misses return (nil, nil). Hits
// come back with the cache-origin flag forced true.
func (s *RedisStore) Get(ctx context.Context, key string) (*providers.Response, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var resp providers.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}

	resp.Cached = true
	return &resp, nil
}

// Set stores a response under the fingerprint with the given TTL. Storing a
// response that was itself a cache hit is a no-op.
func (s *RedisStore) Set(ctx context.Context, key string, resp *providers.Response, ttl time.Duration) error {
	if resp == nil || resp.Cached {
		return nil
	}

	stored := *resp
	stored.Cached = false

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
