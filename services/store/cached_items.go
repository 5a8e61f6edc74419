package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"sjsage522/pricetracker/internal/item"
	"sjsage522/pricetracker/logger"
	"sjsage522/pricetracker/services/cache"
)

const itemCachePrefix = "pricetracker:item:"

// CachedItemRepository serves item lookups from a cache.
// Stored items are never mutated, so entries only expire.
type CachedItemRepository struct {
	next  item.ItemRepository
	cache cache.CacheService
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedItemRepository wraps next with cacheSvc
func NewCachedItemRepository(next item.ItemRepository, cacheSvc cache.CacheService, ttl time.Duration) *CachedItemRepository {
	return &CachedItemRepository{
		next:  next,
		cache: cacheSvc,
		ttl:   ttl,
		log:   logger.ForCache(),
	}
}

// FindByStoreProductID checks the cache before the database; only hits are cached
func (r *CachedItemRepository) FindByStoreProductID(ctx context.Context, storeProductID string) (*item.StoredItem, error) {
	key := itemCacheKey(storeProductID)

	data, err := r.cache.Get(key)
	if err == nil {
		var it item.StoredItem
		if jsonErr := json.Unmarshal(data, &it); jsonErr == nil && it.StoreProductID == storeProductID {
			return &it, nil
		}
		r.log.Warn().Str("key", key).Msg("Discarding malformed cache entry")
		_ = r.cache.Delete(key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.log.Debug().Err(err).Str("key", key).Msg("Item cache unavailable")
	}

	it, err := r.next.FindByStoreProductID(ctx, storeProductID)
	if err != nil || it == nil {
		return it, err
	}

	if data, err := json.Marshal(it); err == nil {
		if err := r.cache.Set(key, data, r.ttl); err != nil {
			r.log.Debug().Err(err).Str("key", key).Msg("Failed to cache item")
		}
	}
	return it, nil
}

// Insert writes through without caching; the row may still be rolled back
func (r *CachedItemRepository) Insert(ctx context.Context, it *item.StoredItem) (int64, error) {
	return r.next.Insert(ctx, it)
}

// itemCacheKey returns a memcache-safe key (no spaces, at most 250 bytes)
func itemCacheKey(storeProductID string) string {
	key := itemCachePrefix + url.QueryEscape(storeProductID)
	if len(key) <= 250 {
		return key
	}
	sum := sha1.Sum([]byte(storeProductID))
	return itemCachePrefix + hex.EncodeToString(sum[:])
}
