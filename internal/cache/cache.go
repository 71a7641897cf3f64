// Package cache provides a Redis-backed read-through cache for expensive
// query results. Every operation is best-effort: a cache failure logs and
// falls back to the underlying store, never failing the request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runboard-ai/runboard/internal/config"
)

const defaultTTL = 30 * time.Second

// Cache is a thin JSON layer over a Redis client.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing Redis client.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Connect dials Redis per the given configuration and verifies the connection.
// A nil Cache is returned when cfg.Addr is empty; callers treat that as
// caching disabled.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "connecting to redis at %s", cfg.Addr)
	}
	return New(client, time.Duration(cfg.TTLSeconds)*time.Second), nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key derives a cache key from a procedure name and its parameters. Parameters
// are hashed rather than embedded so arbitrarily large requests still produce
// bounded keys.
func Key(procedure string, params interface{}) string {
	raw, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable params still deserve a stable (if shared) key.
		raw = []byte(procedure)
	}
	sum := sha256.Sum256(raw)
	return procedure + ":" + hex.EncodeToString(sum[:16])
}

// GetJSON loads and unmarshals a cached value, reporting whether it was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	} else if err != nil {
		log.WithError(err).WithField("key", key).Debug("cache read failed")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.WithError(err).WithField("key", key).Warn("discarding undecodable cache entry")
		return false
	}
	return true
}

// SetJSON stores a value under the cache TTL, best effort.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("cache value not serializable")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Debug("cache write failed")
	}
}
