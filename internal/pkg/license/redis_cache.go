package license

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/cache"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

const DefaultRedisCacheKey = "localaistudio:license:verified"

// RedisCache shares verified keys between backend instances through a redis
// set. Redis failures count as a miss and a dropped add.
type RedisCache struct {
	client *redis.Client
	setKey string
}

func NewRedisCache(client *redis.Client, setKey string) *RedisCache {
	if strings.TrimSpace(setKey) == "" {
		setKey = DefaultRedisCacheKey
	}
	return &RedisCache{client: client, setKey: setKey}
}

func (c *RedisCache) Contains(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	ok, err := c.client.SIsMember(ctx, c.setKey, key).Result()
	if err != nil {
		log.Warnf("[License] Redis cache lookup failed: %v", err)
		return false
	}
	return ok
}

func (c *RedisCache) Add(ctx context.Context, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if err := c.client.SAdd(ctx, c.setKey, key).Err(); err != nil {
		log.Warnf("[License] Redis cache add failed: %v", err)
	}
}

// NewCacheFromEnv returns the cache selected by LICENSE_CACHE ("memory" or "redis").
func NewCacheFromEnv() Cache {
	switch strings.ToLower(strings.TrimSpace(env.GetEnv("LICENSE_CACHE", "memory"))) {
	case "redis":
		log.Infof("[License] Using redis license cache")
		return NewRedisCache(cache.GetClient(), env.GetEnv("LICENSE_CACHE_KEY", DefaultRedisCacheKey))
	default:
		return NewMemoryCache()
	}
}
