package cache

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// ErrCacheMiss is returned by Get when the key is absent
var ErrCacheMiss = memcache.ErrCacheMiss

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache, ErrCacheMiss when absent
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}
