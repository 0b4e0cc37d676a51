package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"sigmalens/metrics"
)

// RedisKeyPrefix namespaces conversion cache keys.
const RedisKeyPrefix = "sigmalens:convert:"

// maxEntrySize bounds a single cached body.
const maxEntrySize = 10 * 1024 * 1024

// RedisCache shares conversion responses between instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisCache connects lazily to the Redis server at addr.
func NewRedisCache(addr, password string, db int, ttl time.Duration, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Ping tests the connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) Backend() string { return "redis" }

func (rc *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := rc.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		rc.logger.Warnw("Dropping undecodable cache entry", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		_ = rc.client.Del(ctx, RedisKeyPrefix+key).Err()
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (rc *RedisCache) Set(ctx context.Context, key string, e Entry) error {
	data, err := msgpack.Marshal(e)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if len(data) > maxEntrySize {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("cache entry %s is %d bytes, limit is %d", key, len(data), maxEntrySize)
	}
	if err := rc.client.Set(ctx, RedisKeyPrefix+key, data, rc.ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = RedisKeyPrefix + k
	}
	if err := rc.client.Del(ctx, full...).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge removes every conversion key. Other keys in the database are kept.
func (rc *RedisCache) Purge(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := rc.client.Del(ctx, batch...).Err(); err != nil {
				metrics.CacheErrors.WithLabelValues("redis", "purge").Inc()
				return fmt.Errorf("redis purge: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "purge").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := rc.client.Del(ctx, batch...).Err(); err != nil {
			metrics.CacheErrors.WithLabelValues("redis", "purge").Inc()
			return fmt.Errorf("redis purge: %w", err)
		}
	}
	return nil
}
