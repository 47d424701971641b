package loaders

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// BlobCache memoizes content-addressed fetches (git blob SHAs, object
// generations). Concurrent requests for the same key share one fetch.
type BlobCache struct {
	data  sync.Map
	group singleflight.Group
}

func NewBlobCache() *BlobCache {
	return &BlobCache{}
}

func (c *BlobCache) Get(key string) ([]byte, bool) {
	v, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Fetch returns the cached value for key or calls fn once. Errors are not cached.
func (c *BlobCache) Fetch(key string, fn func() ([]byte, error)) ([]byte, error) {
	if c == nil {
		return fn()
	}
	if b, ok := c.Get(key); ok {
		return b, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if b, ok := c.Get(key); ok {
			return b, nil
		}
		b, err := fn()
		if err != nil {
			return nil, err
		}
		c.data.Store(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
