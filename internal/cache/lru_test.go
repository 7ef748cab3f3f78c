package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is now least recently used
	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(1), c.Evictions())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_Update(t *testing.T) {
	c := NewLRU[string, int](1)
	c.Set("a", 1)
	c.Set("a", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Zero(t, c.Evictions())
}

func TestLRU_Disabled(t *testing.T) {
	c := NewLRU[string, int](0)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRU_Remove(t *testing.T) {
	c := NewLRU[string, int](10)
	for i := range 5 {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Remove("k0")
	c.Remove("missing")
	assert.Equal(t, 4, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[int, int](64)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				c.Set(g*1000+i, i)
				c.Get(i)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}
