// Package cache implements a best-effort Redis cache for unread-message
// results. A cache failure is never allowed to fail the request it serves.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mivanovs/telegate/internal/logging"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "messages:"

// redisCommands is the subset of redis.Client the cache uses.
type redisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// MessageCache stores JSON-encoded unread-message results per profile.
type MessageCache struct {
	client redisCommands
	ttl    time.Duration
	logger logging.Logger
}

// Connect parses redisURI, opens a client, and verifies the connection.
func Connect(redisURI string, ttl time.Duration, logger logging.Logger) (*MessageCache, error) {
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redis uri: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return New(client, ttl, logger), nil
}

// New builds a cache over an existing client.
func New(client redisCommands, ttl time.Duration, logger logging.Logger) *MessageCache {
	return &MessageCache{client: client, ttl: ttl, logger: logger}
}

func key(profileID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, profileID)
}

// Get loads the cached result for a profile into dest. A miss or any cache
// failure returns false.
func (c *MessageCache) Get(ctx context.Context, profileID int64, dest any) bool {
	if c == nil {
		return false
	}
	val, err := c.client.Get(ctx, key(profileID)).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.logger.Warn(ctx, "discarding unreadable cache entry", "profile_id", profileID, "error", err.Error())
		return false
	}
	return true
}

// Set stores value for a profile with the configured TTL. Failures are
// logged and swallowed.
func (c *MessageCache) Set(ctx context.Context, profileID int64, value any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn(ctx, "cache encode failed", "profile_id", profileID, "error", err.Error())
		return
	}
	if err := c.client.Set(ctx, key(profileID), data, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "cache set failed", "profile_id", profileID, "error", err.Error())
	}
}

// Invalidate drops the cached result for a profile.
func (c *MessageCache) Invalidate(ctx context.Context, profileID int64) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, key(profileID)).Err(); err != nil {
		c.logger.Warn(ctx, "cache invalidate failed", "profile_id", profileID, "error", err.Error())
	}
}
