package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Remove(key string)
}

const DefaultCacheSize = 1024

type LocalCache struct {
	*lru.Cache
}

func NewLocalCache(size uint64) (Cache, error) {
	cache, err := lru.New(int(size))
	if err != nil {
		return nil, err
	}
	return &LocalCache{
		cache,
	}, nil
}

func (c *LocalCache) Get(key string) (interface{}, bool) {
	return c.Cache.Get(key)
}

func (c *LocalCache) Set(key string, value interface{}) {
	c.Cache.Add(key, value)
}

func (c *LocalCache) Remove(key string) {
	c.Cache.Remove(key)
}

// ExpiringCache drops entries ttl after they were set. Expired entries are removed on read.
type ExpiringCache struct {
	inner Cache
	ttl   time.Duration
	now   func() time.Time
}

type expiringEntry struct {
	value     interface{}
	expiresAt time.Time
}

func NewExpiringCache(inner Cache, ttl time.Duration, now func() time.Time) *ExpiringCache {
	if now == nil {
		now = time.Now
	}
	return &ExpiringCache{inner: inner, ttl: ttl, now: now}
}

func (c *ExpiringCache) Get(key string) (interface{}, bool) {
	v, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(*expiringEntry)
	if !c.now().Before(entry.expiresAt) {
		c.inner.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set is a no-op when ttl is not positive.
func (c *ExpiringCache) Set(key string, value interface{}) {
	if c.ttl <= 0 {
		return
	}
	c.inner.Set(key, &expiringEntry{value: value, expiresAt: c.now().Add(c.ttl)})
}

func (c *ExpiringCache) Remove(key string) {
	c.inner.Remove(key)
}
