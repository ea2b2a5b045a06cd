package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

var (
	client *redis.Client
	mu     sync.Mutex
)

// SetupCache initializes the connection to the redis-compatible cache server.
// A failed ping is only a warning: the cache is optional for this backend.
func SetupCache() {
	mu.Lock()
	defer mu.Unlock()

	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")
	db, _ := strconv.Atoi(env.GetEnv("CACHE_DB", "0"))

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache: %v", err)
	} else {
		log.Infof("[Cache] Successfully connected to cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	mu.Lock()
	c := client
	mu.Unlock()
	if c == nil {
		SetupCache()
		mu.Lock()
		c = client
		mu.Unlock()
	}
	return c
}

// SetClient replaces the shared client, used by tests with an isolated DB.
func SetClient(c *redis.Client) {
	mu.Lock()
	client = c
	mu.Unlock()
}

// Ping reports whether the cache answers within timeout.
func Ping(ctx context.Context) error {
	return GetClient().Ping(ctx).Err()
}
