package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })

	c.Put("a", 1)
	c.Put("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put("c", 3)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestLRU_PutReplacesWithoutEviction(t *testing.T) {
	var evictions int
	c := NewLRU[string, int](2, func(string, int) { evictions++ })

	c.Put("a", 1)
	c.Put("a", 10)
	c.Put("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Zero(t, evictions)
}

func TestLRU_RemoveIsNotEviction(t *testing.T) {
	var evictions int
	c := NewLRU[string, int](2, func(string, int) { evictions++ })

	c.Put("a", 1)
	c.Remove("a")
	assert.Zero(t, c.Len())
	assert.Zero(t, evictions)
}

func TestLRU_EachVisitsMRUFirst(t *testing.T) {
	c := NewLRU[string, int](3, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	var keys []string
	c.Each(func(k string, _ int) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []string{"c", "b", "a"}, keys)
}
