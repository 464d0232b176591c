package objstore

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDirCacheSize is the number of directory listings kept by Cached.
const DefaultDirCacheSize = 10000

// Cached decorates a Store with an LRU of directory listings. Directory
// objects are immutable, so entries never need invalidation.
type Cached struct {
	Store
	dirs *lru.Cache[string, []DirEntry]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Store = (*Cached)(nil)

// NewCached wraps store with a cache of size directory listings.
func NewCached(store Store, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultDirCacheSize
	}
	cache, err := lru.New[string, []DirEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Store: store, dirs: cache}, nil
}

// LoadDirectory serves from the cache when possible.
func (c *Cached) LoadDirectory(ctx context.Context, repoID string, version int, dirID string) ([]DirEntry, error) {
	if IsEmpty(dirID) {
		return nil, nil
	}

	key := repoID + "/" + dirID
	if entries, ok := c.dirs.Get(key); ok {
		c.hits.Add(1)
		return entries, nil
	}
	c.misses.Add(1)

	entries, err := c.Store.LoadDirectory(ctx, repoID, version, dirID)
	if err != nil {
		return nil, err
	}
	c.dirs.Add(key, entries)
	return entries, nil
}

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
