package license

import (
	"context"
	"strings"
	"sync"
)

// Cache is the set of license keys already known to be valid. Entries are
// never removed; a member is trusted without asking the provider again.
type Cache interface {
	Contains(ctx context.Context, key string) bool
	Add(ctx context.Context, key string)
}

// MemoryCache keeps verified keys for the lifetime of the process.
type MemoryCache struct {
	keys sync.Map
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Contains(_ context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	_, ok := c.keys.Load(key)
	return ok
}

func (c *MemoryCache) Add(_ context.Context, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	c.keys.Store(key, struct{}{})
}

// Len counts the cached keys.
func (c *MemoryCache) Len() int {
	n := 0
	c.keys.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
