package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vatledger/engine/internal/vat"
)

const (
	defaultKeyPrefix = "vat:rates:"
	defaultRateTTL   = 10 * time.Minute
)

// RedisRateCache keeps one hash per country (field = tax class, value = percent),
// so invalidating a country is a single DEL.
type RedisRateCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// RedisRateCacheOption is a functional option for configuring the cache
type RedisRateCacheOption func(*RedisRateCache)

// WithTTL bounds how long another process's registry write can go unseen.
func WithTTL(ttl time.Duration) RedisRateCacheOption {
	return func(c *RedisRateCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the key namespace. An empty prefix keeps the default.
func WithKeyPrefix(prefix string) RedisRateCacheOption {
	return func(c *RedisRateCache) {
		if prefix != "" {
			c.keyPrefix = prefix
		}
	}
}

// WithLogger sets the logger for the cache
func WithLogger(logger *zap.Logger) RedisRateCacheOption {
	return func(c *RedisRateCache) {
		c.logger = logger
	}
}

// NewRedisRateCache wraps an existing client. The caller owns the client.
func NewRedisRateCache(client *redis.Client, opts ...RedisRateCacheOption) *RedisRateCache {
	c := &RedisRateCache{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       defaultRateTTL,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect creates a client and checks connectivity.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisRateCache) key(country string) string {
	return c.keyPrefix + country
}

func (c *RedisRateCache) Get(ctx context.Context, country string, class vat.TaxClass) (decimal.Decimal, bool, error) {
	s, err := c.client.HGet(ctx, c.key(country), string(class)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read rate from cache: %w", err)
	}

	rate, err := decimal.NewFromString(s)
	if err != nil {
		c.logger.Warn("Dropping corrupt cached rate",
			zap.String("country", country), zap.String("class", string(class)), zap.String("value", s))
		_ = c.client.HDel(ctx, c.key(country), string(class)).Err()
		return decimal.Zero, false, nil
	}
	return rate, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, country string, class vat.TaxClass, rate decimal.Decimal) error {
	key := c.key(country)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, string(class), rate.String())
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write rate to cache: %w", err)
	}
	return nil
}

func (c *RedisRateCache) Invalidate(ctx context.Context, country string) error {
	if err := c.client.Del(ctx, c.key(country)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rates for %s: %w", country, err)
	}
	c.logger.Debug("Invalidated cached rates", zap.String("country", country))
	return nil
}
