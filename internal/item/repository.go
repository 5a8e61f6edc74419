package item

import "context"

// Lookups return a not found error from pkg/errors on a miss.

// ItemRepository persists product identities keyed by store product id
type ItemRepository interface {
	FindByStoreProductID(ctx context.Context, storeProductID string) (*StoredItem, error)
	Insert(ctx context.Context, item *StoredItem) (int64, error)
}

// ImageRepository persists item images
type ImageRepository interface {
	Insert(ctx context.Context, image *ItemImage) (int64, error)
}

// PriceRepository persists the append-only price history
type PriceRepository interface {
	FindLatestByItemID(ctx context.Context, itemID int64) (*PriceRecord, error)
	Insert(ctx context.Context, record *PriceRecord) (int64, error)
}

// PromoRepository persists the promotion slot of each item
type PromoRepository interface {
	FindByItemID(ctx context.Context, itemID int64) (*PromoRecord, error)
	Insert(ctx context.Context, promo *PromoRecord) (int64, error)
	DeleteByItemID(ctx context.Context, itemID int64) error
}

// Repositories groups the repositories a Reconciler writes through
type Repositories struct {
	Items  ItemRepository
	Images ImageRepository
	Prices PriceRepository
	Promos PromoRepository
}
