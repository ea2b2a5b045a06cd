package counter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "localaistudio:counters:requests"

// Counters tallies handled requests per route name. With a redis client the
// tallies live in one hash shared by all instances, otherwise in memory.
type Counters struct {
	client *redis.Client
	key    string

	mu    sync.Mutex
	local map[string]int64
}

func New(client *redis.Client, key string) *Counters {
	if key == "" {
		key = DefaultKey
	}
	return &Counters{client: client, key: key, local: map[string]int64{}}
}

// Add increments field by one.
func (c *Counters) Add(ctx context.Context, field string) {
	if c == nil {
		return
	}
	if c.client != nil {
		err := c.client.HIncrBy(ctx, c.key, field, 1).Err()
		if err == nil {
			return
		}
		log.Warnf("[Counter] HINCRBY %s failed, counting locally: %v", field, err)
	}
	c.mu.Lock()
	c.local[field]++
	c.mu.Unlock()
}

// Snapshot returns the current tallies. Local counts are added on top of the
// shared hash so nothing counted during a cache outage is lost from view.
func (c *Counters) Snapshot(ctx context.Context) map[string]int64 {
	out := map[string]int64{}
	if c == nil {
		return out
	}
	if c.client != nil {
		data, err := c.client.HGetAll(ctx, c.key).Result()
		if err != nil {
			log.Warnf("[Counter] HGETALL failed: %v", err)
		}
		for k, v := range data {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			out[k] = n
		}
	}
	c.mu.Lock()
	for k, v := range c.local {
		out[k] += v
	}
	c.mu.Unlock()
	return out
}

// Track counts every request through the route as name, and failed ones
// (status >= 400) additionally as name:error.
func (c *Counters) Track(name string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if c == nil {
			return err
		}
		status := ctx.Response().StatusCode()
		// Counting must not hold up the response.
		bg, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		c.Add(bg, name)
		if err != nil || status >= fiber.StatusBadRequest {
			c.Add(bg, name+":error")
		}
		return err
	}
}

// Handler serves the tallies as JSON.
func (c *Counters) Handler(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"counters": c.Snapshot(ctx.UserContext())})
}
