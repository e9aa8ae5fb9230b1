package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetUsesConfiguredDefaultExpiration(t *testing.T) {
	c := NewCache(10*time.Millisecond, 0, 0)

	c.Set("k", "v")
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire after the configured TTL")
}

func TestSetWithExpirationOverridesDefault(t *testing.T) {
	c := NewCache(time.Millisecond, 0, 0)

	c.SetWithExpiration("k", 42, time.Hour)
	time.Sleep(5 * time.Millisecond)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestMaxItemsEvictsWhenFull(t *testing.T) {
	c := NewCache(time.Hour, 0, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Count())
	_, ok := c.Get("c")
	assert.True(t, ok, "the newest entry is always retained")
}

func TestZeroMaxItemsIsUnbounded(t *testing.T) {
	c := NewCache(time.Hour, 0, 0)

	for _, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, k)
	}
	assert.Equal(t, 4, c.Count())
}

func TestDeleteAndFlush(t *testing.T) {
	c := NewCache(time.Hour, 0, 0)

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Flush()
	assert.Zero(t, c.Count())
}
