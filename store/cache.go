package store

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// sizeDeleted marks a key known to be missing.
const sizeDeleted int64 = -1

const (
	missTTL   = 10 * time.Minute
	hitTTL    = 24 * time.Hour
	sweepTime = time.Hour
)

// sizecache remembers the size of remote objects so the S3 store does not
// need a HEAD request for every Open. Missing keys are remembered for less
// time than present ones.
type sizecache struct {
	clock clock.Clock

	m       sync.Mutex
	sizes   map[string]sized
	sweepAt time.Time
}

type sized struct {
	size    int64
	expires time.Time
}

func newSizeCache() *sizecache {
	return &sizecache{clock: clock.New(), sizes: make(map[string]sized)}
}

// Get returns the size of key, asking fill when nothing unexpired is
// cached. A remembered miss gives ErrNotExist.
func (c *sizecache) Get(key string, fill func(key string) (int64, error)) (int64, error) {
	now := c.clock.Now()
	c.m.Lock()
	if now.After(c.sweepAt) {
		c.sweep(now)
	}
	v, ok := c.sizes[key]
	c.m.Unlock()
	if ok && now.Before(v.expires) {
		if v.size == sizeDeleted {
			return 0, ErrNotExist
		}
		return v.size, nil
	}
	size, err := fill(key)
	switch err {
	case nil:
		c.Set(key, size)
	case ErrNotExist:
		c.Set(key, sizeDeleted)
		return 0, err
	}
	return size, err
}

// Set records the size of key. Pass sizeDeleted for a missing key.
func (c *sizecache) Set(key string, size int64) {
	ttl := hitTTL
	if size == sizeDeleted {
		ttl = missTTL
	}
	c.m.Lock()
	c.sizes[key] = sized{size: size, expires: c.clock.Now().Add(ttl)}
	c.m.Unlock()
}

// sweep drops expired entries. c.m must be held.
func (c *sizecache) sweep(now time.Time) {
	c.sweepAt = now.Add(sweepTime)
	for k, v := range c.sizes {
		if now.After(v.expires) {
			delete(c.sizes, k)
		}
	}
}
