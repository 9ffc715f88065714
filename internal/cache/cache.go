// Package cache provides the in-memory classification result cache.
package cache

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/siteverdict/siteverdict/internal/store"
)

// ErrCacheMiss is returned when a key is not present.
var ErrCacheMiss = errors.New("cache: key not found")

// Results caches classification records keyed by normalized URL.
type Results struct {
	cache *gocache.Cache
}

// New builds a Results cache with the given default TTL and cleanup
// interval for expired entries.
func New(ttl, cleanup time.Duration) *Results {
	return &Results{cache: gocache.New(ttl, cleanup)}
}

// Set stores a record under its URL key using the default TTL.
func (c *Results) Set(urlKey string, rec store.ClassificationRecord) {
	c.cache.SetDefault(urlKey, rec)
}

// Get fetches the cached record for a URL key.
func (c *Results) Get(urlKey string) (store.ClassificationRecord, error) {
	v, found := c.cache.Get(urlKey)
	if !found {
		return store.ClassificationRecord{}, ErrCacheMiss
	}
	rec, ok := v.(store.ClassificationRecord)
	if !ok {
		return store.ClassificationRecord{}, ErrCacheMiss
	}
	return rec, nil
}

// Delete drops a URL key, used by force re-classification.
func (c *Results) Delete(urlKey string) {
	c.cache.Delete(urlKey)
}

// Count reports the number of live entries.
func (c *Results) Count() int {
	return c.cache.ItemCount()
}
