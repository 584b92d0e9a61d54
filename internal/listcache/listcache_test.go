package listcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvalidateScope(t *testing.T) {
	c := New[int](time.Minute)
	c.Set(Key("usr_1", "pending", 10), 1)
	c.Set(Key("usr_1", "", 10), 2)
	c.Set(Key("usr_10", "", 10), 3)

	c.Invalidate("usr_1")

	_, ok := c.Get(Key("usr_1", "pending", 10))
	assert.False(t, ok)
	_, ok = c.Get(Key("usr_1", "", 10))
	assert.False(t, ok)
	v, ok := c.Get(Key("usr_10", "", 10))
	assert.True(t, ok, "prefix match must stop at the separator")
	assert.Equal(t, 3, v)
}

func TestDisabledCache(t *testing.T) {
	c := New[string](0)
	c.Set("a", "b")
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Invalidate("a")
	c.Purge()
}

func TestKey(t *testing.T) {
	assert.Equal(t, "all|pending||25", Key("all", "pending", "", 25))
}
