package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

const keyPrefix = "ia"

// ResultCache keeps finished query results in Redis. Every key embeds the
// current store generation; an append bumps the generation, which orphans all
// earlier results until their TTL removes them.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewResultCache creates a cache whose entries live for ttl
func NewResultCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func generationKey() string {
	return keyPrefix + ":generation"
}

// Generation is the current store generation, zero before any append
func (c *ResultCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Key binds a request fingerprint to the current generation
func (c *ResultCache) Key(ctx context.Context, fingerprint string) (string, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:result:%d:%s", keyPrefix, gen, fingerprint), nil
}

// Get returns nil, nil on a miss
func (c *ResultCache) Get(ctx context.Context, key string) (*interaction.Result, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result interaction.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("dropping undecodable cached result", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		return nil, nil
	}
	return &result, nil
}

// Set stores result under key
func (c *ResultCache) Set(ctx context.Context, key string, result *interaction.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate moves to a new generation so no earlier key can hit again
func (c *ResultCache) Invalidate(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, generationKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr generation failed: %w", err)
	}

	c.logger.Debug("result cache invalidated", zap.Int64("generation", gen))
	return nil
}

// Close closes the Redis client
func (c *ResultCache) Close() error {
	return c.client.Close()
}
