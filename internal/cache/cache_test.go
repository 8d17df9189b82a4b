package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/paveg/tabula/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	assert.Equal(t, cache.NewKey("a", "b"), cache.NewKey("a", "b"))
	assert.NotEqual(t, cache.NewKey("ab", "c"), cache.NewKey("a", "bc"))
	assert.NotEqual(t, cache.NewKey("a"), cache.NewKey("a", ""))
	assert.Equal(t, "a\x00b\x00", cache.NewKey("a", "b").Text)
}

func TestLRU_SharedHash(t *testing.T) {
	c := cache.New[string](4)
	first := cache.Key{Hash: 42, Text: "dataset-1\x001\x00"}
	second := cache.Key{Hash: 42, Text: "dataset-2\x001\x00"}

	c.Put(first, "one")
	_, ok := c.Get(second)
	assert.False(t, ok, "same hash with a different key is a miss")
	v, ok := c.Get(first)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	c.Put(second, "two")
	assert.Equal(t, 1, c.Len())
	_, ok = c.Get(first)
	assert.False(t, ok)
	v, ok = c.Get(second)
	require.True(t, ok)
	assert.Equal(t, "two", v)
	assert.Equal(t, cache.Stats{Entries: 1, Hits: 2, Misses: 2}, c.Stats())
}

func TestLRU_Eviction(t *testing.T) {
	c := cache.New[string](2)
	a, b, d := cache.NewKey("a"), cache.NewKey("b"), cache.NewKey("d")

	c.Put(a, "A")
	c.Put(b, "B")
	_, ok := c.Get(a) // a is now most recent
	require.True(t, ok)
	c.Put(d, "D")

	_, ok = c.Get(b)
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get(a)
	assert.True(t, ok)
	assert.Equal(t, "A", v)
	assert.Equal(t, 2, c.Len())

	c.Put(a, "A2")
	v, _ = c.Get(a)
	assert.Equal(t, "A2", v)
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, cache.Stats{Entries: 2, Hits: 3, Misses: 1}, c.Stats())
}

func TestLRU_RemoveIf(t *testing.T) {
	c := cache.New[int](10)
	for i := range 6 {
		c.Put(cache.NewKey(fmt.Sprint(i)), i)
	}
	removed := c.RemoveIf(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, 3, removed)
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(cache.NewKey("2"))
	assert.False(t, ok)
	_, ok = c.Get(cache.NewKey("3"))
	assert.True(t, ok)
}

func TestLRU_MinimumCapacity(t *testing.T) {
	c := cache.New[int](0)
	c.Put(cache.NewKey("x"), 1)
	c.Put(cache.NewKey("y"), 2)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	c := cache.New[int](32)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				k := cache.NewKey(fmt.Sprint(g, i%40))
				c.Put(k, i)
				c.Get(k)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 32)
}
