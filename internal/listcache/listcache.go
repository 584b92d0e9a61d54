// Package listcache caches first-page list responses with a TTL. Keys are
// "<scope>|..." strings so a write can drop every entry of one scope.
package listcache

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 1024

type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New returns a cache; a non-positive ttl disables caching.
func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		return &Cache[V]{}
	}
	return &Cache[V]{lru: expirable.NewLRU[string, V](defaultSize, nil, ttl)}
}

// Key joins scope and parts with "|".
func Key(scope string, parts ...any) string {
	var b strings.Builder
	b.WriteString(scope)
	for _, p := range parts {
		b.WriteByte('|')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

func (c *Cache[V]) Get(key string) (V, bool) {
	if c == nil || c.lru == nil {
		var zero V
		return zero, false
	}
	return c.lru.Get(key)
}

func (c *Cache[V]) Set(key string, v V) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(key, v)
}

// Invalidate drops every key of scope.
func (c *Cache[V]) Invalidate(scope string) {
	if c == nil || c.lru == nil || scope == "" {
		return
	}
	prefix := scope + "|"
	for _, k := range c.lru.Keys() {
		if k == scope || strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

func (c *Cache[V]) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Purge()
}
