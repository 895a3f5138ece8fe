package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	data      V
	expiresAt time.Time
}

// Memo is a bounded in-memory cache whose entries expire after a TTL.
type Memo[V any] struct {
	lru *lru.Cache[string, *entry[V]]
	now func() time.Time
}

func NewMemo[V any](size int) (*Memo[V], error) {
	l, err := lru.New[string, *entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &Memo[V]{lru: l, now: time.Now}, nil
}

func (c *Memo[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.data, true
}

func (c *Memo[V]) Set(key string, val V, ttl time.Duration) {
	c.lru.Add(key, &entry[V]{
		data:      val,
		expiresAt: c.now().Add(ttl),
	})
}

func (c *Memo[V]) Forget(key string) {
	c.lru.Remove(key)
}
