package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_PutGet(t *testing.T) {
	c := New[string, int](time.Minute, 0, 0)
	defer c.Close()

	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestTTLCache_ExpiresOnGet(t *testing.T) {
	c := New[string, int](10*time.Millisecond, 0, 0)
	defer c.Close()

	c.Put("a", 1)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok, "expired entry must not be returned")
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_BackgroundCleanupRemovesExpired(t *testing.T) {
	c := New[string, int](10*time.Millisecond, 5*time.Millisecond, 0)
	defer c.Close()

	c.Put("a", 1)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, c.Len(), "background cleanup should have removed the expired entry")
}

func TestTTLCache_EvictsLRUWhenOverCapacity(t *testing.T) {
	c := New[string, int](time.Minute, 0, 2)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // bump a's last access ahead of b

	c.Put("c", 3) // forces an eviction; b is the least-recently-used

	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.False(t, bOK, "least-recently-used entry should be evicted")
	assert.True(t, cOK)
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestTTLCache_PutTTLOverridesDefault(t *testing.T) {
	c := New[string, int](time.Hour, 0, 0)
	defer c.Close()

	c.PutTTL("short", 1, 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
}

func TestTTLCache_Remove(t *testing.T) {
	c := New[string, int](time.Minute, 0, 0)
	defer c.Close()

	c.Put("a", 1)
	c.Remove("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}
