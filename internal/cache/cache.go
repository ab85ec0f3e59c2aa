// Package cache implements the bounded LRU page cache described in
// spec.md §4.2: a mapping from page id to a shared, immutable page image,
// evicted in strict LRU order on both Get and Insert.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/finchdb/finch/internal/rawpage"
)

// Cache is a process-local, bounded LRU cache of page images.
type Cache struct {
	inner *lru.Cache[uint32, *rawpage.RawPage]
}

// New creates a cache bounded to capacity entries (spec.md default 1024).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	inner, _ := lru.New[uint32, *rawpage.RawPage](capacity)
	return &Cache{inner: inner}
}

// Get returns the cached image for a page id, or (nil, false). The
// returned page is shared — callers must Clone before mutating it.
func (c *Cache) Get(id uint32) (*rawpage.RawPage, bool) {
	return c.inner.Get(id)
}

// Insert stores (or replaces) the image for a page id, evicting the least
// recently used entry if the cache is at capacity.
func (c *Cache) Insert(id uint32, p *rawpage.RawPage) {
	c.inner.Add(id, p)
}

// Remove evicts a single entry, if present.
func (c *Cache) Remove(id uint32) {
	c.inner.Remove(id)
}

// Clear discards every cached entry. The backend does this on rollback
// because journal truncation invalidates any page image read from the
// truncated frames (spec.md §4.2, §5).
func (c *Cache) Clear() {
	c.inner.Purge()
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.inner.Len()
}
