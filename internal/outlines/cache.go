package outlines

import (
	"time"

	"github.com/patrickmn/go-cache"

	"docworkspace/internal/models"
)

const (
	DefaultTTL     = 30 * time.Minute
	DefaultCleanup = 10 * time.Minute
)

// Cache holds outlines already fetched in this session, keyed by docId.
type Cache struct {
	c *cache.Cache
}

// New creates a cache; a cleanup interval <= 0 disables the background sweeper.
func New(ttl, cleanup time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{c: cache.New(ttl, cleanup)}
}

func (c *Cache) Put(o models.Outline) {
	if o.DocID == "" {
		return
	}
	c.c.Set(o.DocID, o, cache.DefaultExpiration)
}

func (c *Cache) Get(docID string) (models.Outline, bool) {
	if x, found := c.c.Get(docID); found {
		return x.(models.Outline), true
	}
	return models.Outline{}, false
}

func (c *Cache) Delete(docID string) {
	c.c.Delete(docID)
}

func (c *Cache) Flush() {
	c.c.Flush()
}

func (c *Cache) Len() int {
	return c.c.ItemCount()
}
