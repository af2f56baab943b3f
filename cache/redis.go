package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dastron/video-ware-sub000/core"
)

// RedisCache implements ArtifactCache on Redis string keys. Entries are
// stored as JSON under a namespaced key with an optional TTL.
type RedisCache struct {
	client *redis.Client
	config RedisCacheConfig
	logger core.Logger
}

// RedisCacheConfig configures the Redis artifact cache.
type RedisCacheConfig struct {
	// KeyPrefix namespaces cache keys
	// Default: "mediaworker:cache"
	KeyPrefix string `json:"key_prefix"`

	// TTL bounds entry lifetime; zero means entries never expire
	TTL time.Duration `json:"ttl"`

	// Logger is optional
	Logger core.Logger `json:"-"`
}

// DefaultRedisCacheConfig returns default configuration.
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		KeyPrefix: "mediaworker:cache",
		TTL:       30 * 24 * time.Hour,
	}
}

// NewRedisCache creates a Redis-backed artifact cache.
// The client should already be connected.
func NewRedisCache(client *redis.Client, config *RedisCacheConfig) *RedisCache {
	if config == nil {
		defaultConfig := DefaultRedisCacheConfig()
		config = &defaultConfig
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "mediaworker:cache"
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisCache{
		client: client,
		config: *config,
		logger: logger,
	}
}

func (c *RedisCache) key(mediaID string, version int, provider string) string {
	return fmt.Sprintf("%s:%s:%d:%s", c.config.KeyPrefix, mediaID, version, provider)
}

// Get fetches a cached entry; the second return is false on miss.
func (c *RedisCache) Get(ctx context.Context, mediaID string, version int, provider string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, c.key(mediaID, version, provider)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: cache get: %v", core.ErrUnavailable, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry behaves like a miss; the caller re-runs the
		// provider call and overwrites it.
		c.logger.Warn("Discarding corrupt cache entry", map[string]interface{}{
			"media_id": mediaID,
			"version":  version,
			"provider": provider,
			"error":    err.Error(),
		})
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put stores an entry, overwriting any previous value for the key.
func (c *RedisCache) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil cache entry", core.ErrInvalidInput)
	}
	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("serialize cache entry: %w", err)
	}

	key := c.key(entry.MediaID, entry.Version, entry.Provider)
	if err := c.client.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("%w: cache put: %v", core.ErrUnavailable, err)
	}

	c.logger.Debug("Cache entry stored", map[string]interface{}{
		"media_id":          entry.MediaID,
		"version":           entry.Version,
		"provider":          entry.Provider,
		"processor_version": entry.ProcessorVersion,
	})
	return nil
}
