package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheConfig contains refinement cache configuration.
type CacheConfig struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Cache keeps fetched refinement data in Redis so repeated renders do not hit
// the feedback store. Entries are invalidated after every accepted feedback
// submission; refinement data is read-mostly otherwise.
type Cache struct {
	client *redis.Client
	config *CacheConfig
	logger *zap.Logger
	stats  cacheStats
}

// Counters are touched concurrently by HTTP handlers, so they are atomic.
type cacheStats struct {
	hits   int64
	misses int64
}

// NewCache creates a Redis-backed refinement cache.
func NewCache(config *CacheConfig, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := &Cache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Refinement cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Get returns the cached refinement data for a pattern id, or (nil, false) on
// a miss. Lookup failures are treated as misses so a Redis outage never blocks
// rendering.
func (c *Cache) Get(ctx context.Context, patternID string) (*Refined, bool) {
	data, err := c.client.Get(ctx, c.key(patternID)).Result()
	if err == redis.Nil {
		atomic.AddInt64(&c.stats.misses, 1)
		return nil, false
	}
	if err != nil {
		atomic.AddInt64(&c.stats.misses, 1)
		c.logger.Error("Refinement cache lookup failed", zap.Error(err))
		return nil, false
	}

	var refined Refined
	if err := json.Unmarshal([]byte(data), &refined); err != nil {
		c.logger.Error("Failed to unmarshal cached refinement", zap.Error(err))
		c.client.Del(ctx, c.key(patternID))
		atomic.AddInt64(&c.stats.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.stats.hits, 1)
	return &refined, true
}

// Set stores refinement data for a pattern id with the configured TTL.
func (c *Cache) Set(ctx context.Context, refined *Refined) error {
	data, err := json.Marshal(refined)
	if err != nil {
		return fmt.Errorf("failed to marshal refinement for caching: %w", err)
	}
	if err := c.client.Set(ctx, c.key(refined.PatternID), data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Error("Failed to cache refinement", zap.Error(err))
		return fmt.Errorf("failed to cache refinement: %w", err)
	}
	return nil
}

// Invalidate drops cached refinement data for the given pattern ids. Called
// after a feedback submission is accepted so the next render refetches.
func (c *Cache) Invalidate(ctx context.Context, patternIDs ...string) error {
	if len(patternIDs) == 0 {
		return nil
	}
	keys := make([]string, len(patternIDs))
	for i, id := range patternIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("Failed to invalidate refinement cache", zap.Error(err))
		return fmt.Errorf("failed to invalidate refinement cache: %w", err)
	}
	c.logger.Debug("Refinement cache invalidated", zap.Strings("pattern_ids", patternIDs))
	return nil
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.stats.hits), atomic.LoadInt64(&c.stats.misses)
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Cache) key(patternID string) string {
	return fmt.Sprintf("%s:refined:%s", c.config.KeyPrefix, patternID)
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
