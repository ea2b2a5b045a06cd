package license

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheAddOnly(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	assert.False(t, c.Contains(ctx, "KEY-1"))
	c.Add(ctx, "KEY-1")
	c.Add(ctx, " KEY-1 ")
	c.Add(ctx, "")
	assert.True(t, c.Contains(ctx, "KEY-1"))
	assert.False(t, c.Contains(ctx, ""))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCacheConcurrentAdds(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(ctx, fmt.Sprintf("KEY-%d", i%4))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}
