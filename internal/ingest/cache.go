package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const cacheKeyPrefix = "ingest:"

// Cache stores encoded fetch results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by a redis client
type RedisCache struct {
	Client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

// CachedSource serves repeated queries from a Cache. Cache failures are
// logged and fall through to the wrapped source.
type CachedSource struct {
	logger *zap.Logger
	source Source
	cache  Cache
	ttl    time.Duration
}

func NewCachedSource(logger *zap.Logger, source Source, cache Cache, ttl time.Duration) *CachedSource {
	return &CachedSource{
		logger: logger.Named("cached_source"),
		source: source,
		cache:  cache,
		ttl:    ttl,
	}
}

// CacheKey derives the cache key of q.
func CacheKey(q Query) string {
	data, _ := json.Marshal(q)
	sum := sha256.Sum256(data)
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}

func (s *CachedSource) Fetch(ctx context.Context, q Query) ([]model.RawRecord, error) {
	key := CacheKey(q)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read cache", zap.String("key", key), zap.Error(err))
	}
	if ok {
		var records []model.RawRecord
		if err := json.Unmarshal(data, &records); err == nil && len(records) > 0 {
			s.logger.Debug("Cache hit", zap.String("key", key), zap.Int("count", len(records)))
			return records, nil
		}
	}

	records, err := s.source.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(records)
	if err != nil {
		s.logger.Warn("Failed to encode records for cache", zap.Error(err))
		return records, nil
	}
	if err := s.cache.Set(ctx, key, encoded, s.ttl); err != nil {
		s.logger.Warn("Failed to write cache", zap.String("key", key), zap.Error(err))
	}
	return records, nil
}
