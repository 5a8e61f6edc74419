package store

import (
	"context"
	"database/sql"
	"errors"

	"sjsage522/pricetracker/internal/item"
	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// ItemRepository implements item.ItemRepository over the items table
type ItemRepository struct {
	q querier
	s *Store
}

// FindByStoreProductID looks an item up by its external key
func (r *ItemRepository) FindByStoreProductID(ctx context.Context, storeProductID string) (*item.StoredItem, error) {
	var it item.StoredItem
	err := r.q.QueryRowContext(ctx, r.s.rebind(
		`SELECT id, store_id, store_product_id, title, url FROM items WHERE store_product_id = ?`), storeProductID).
		Scan(&it.ID, &it.StoreID, &it.StoreProductID, &it.Title, &it.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("items", storeProductID)
	}
	if err != nil {
		return nil, trackererrors.NewPersistence("items", "lookup failed", err)
	}
	return &it, nil
}

// Insert stores a new item and sets its generated id
func (r *ItemRepository) Insert(ctx context.Context, it *item.StoredItem) (int64, error) {
	err := r.q.QueryRowContext(ctx, r.s.rebind(
		`INSERT INTO items (store_id, store_product_id, title, url) VALUES (?, ?, ?, ?) RETURNING id`),
		it.StoreID, it.StoreProductID, it.Title, it.URL).Scan(&it.ID)
	if err != nil {
		return 0, trackererrors.NewPersistence("items", "insert failed", err)
	}
	return it.ID, nil
}

// ImageRepository implements item.ImageRepository over the item_images table
type ImageRepository struct {
	q querier
	s *Store
}

// Insert stores an image and sets its generated id
func (r *ImageRepository) Insert(ctx context.Context, img *item.ItemImage) (int64, error) {
	err := r.q.QueryRowContext(ctx, r.s.rebind(
		`INSERT INTO item_images (item_id, img_src) VALUES (?, ?) RETURNING id`),
		img.ItemID, img.ImgSrc).Scan(&img.ID)
	if err != nil {
		return 0, trackererrors.NewPersistence("item_images", "insert failed", err)
	}
	return img.ID, nil
}

// PriceRepository implements item.PriceRepository over the item_prices table.
// Rows are only ever inserted.
type PriceRepository struct {
	q querier
	s *Store
}

// FindLatestByItemID returns the most recently inserted price record
func (r *PriceRepository) FindLatestByItemID(ctx context.Context, itemID int64) (*item.PriceRecord, error) {
	row := r.q.QueryRowContext(ctx, r.s.rebind(
		`SELECT id, item_id, date, time, price, delta FROM item_prices WHERE item_id = ? ORDER BY id DESC LIMIT 1`), itemID)
	rec, err := scanPrice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("item_prices", itemID)
	}
	if err != nil {
		return nil, trackererrors.NewPersistence("item_prices", "lookup failed", err)
	}
	return rec, nil
}

// Insert appends a price record and sets its generated id
func (r *PriceRepository) Insert(ctx context.Context, rec *item.PriceRecord) (int64, error) {
	var delta sql.NullFloat64
	if rec.Delta != nil {
		delta = sql.NullFloat64{Float64: *rec.Delta, Valid: true}
	}
	err := r.q.QueryRowContext(ctx, r.s.rebind(
		`INSERT INTO item_prices (item_id, date, time, price, delta) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		rec.ItemID, rec.Date, rec.Time, rec.Price, delta).Scan(&rec.ID)
	if err != nil {
		return 0, trackererrors.NewPersistence("item_prices", "insert failed", err)
	}
	return rec.ID, nil
}

// PromoRepository implements item.PromoRepository over the item_promos table
type PromoRepository struct {
	q querier
	s *Store
}

// FindByItemID returns the live promotion of an item
func (r *PromoRepository) FindByItemID(ctx context.Context, itemID int64) (*item.PromoRecord, error) {
	var p item.PromoRecord
	var promoURL sql.NullString
	err := r.q.QueryRowContext(ctx, r.s.rebind(
		`SELECT id, item_id, promo, promo_url FROM item_promos WHERE item_id = ?`), itemID).
		Scan(&p.ID, &p.ItemID, &p.Promo, &promoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("item_promos", itemID)
	}
	if err != nil {
		return nil, trackererrors.NewPersistence("item_promos", "lookup failed", err)
	}
	if promoURL.Valid {
		p.PromoURL = &promoURL.String
	}
	return &p, nil
}

// Insert stores a promotion; a second live promotion for the same item is rejected
func (r *PromoRepository) Insert(ctx context.Context, p *item.PromoRecord) (int64, error) {
	var promoURL sql.NullString
	if p.PromoURL != nil {
		promoURL = sql.NullString{String: *p.PromoURL, Valid: true}
	}
	err := r.q.QueryRowContext(ctx, r.s.rebind(
		`INSERT INTO item_promos (item_id, promo, promo_url) VALUES (?, ?, ?) RETURNING id`),
		p.ItemID, p.Promo, promoURL).Scan(&p.ID)
	if err != nil {
		return 0, trackererrors.NewPersistence("item_promos", "insert failed", err)
	}
	return p.ID, nil
}

// DeleteByItemID removes the promotion of an item, if any
func (r *PromoRepository) DeleteByItemID(ctx context.Context, itemID int64) error {
	if _, err := r.q.ExecContext(ctx, r.s.rebind(`DELETE FROM item_promos WHERE item_id = ?`), itemID); err != nil {
		return trackererrors.NewPersistence("item_promos", "delete failed", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPrice(row scanner) (*item.PriceRecord, error) {
	var rec item.PriceRecord
	var delta sql.NullFloat64
	if err := row.Scan(&rec.ID, &rec.ItemID, &rec.Date, &rec.Time, &rec.Price, &delta); err != nil {
		return nil, err
	}
	if delta.Valid {
		d := delta.Float64
		rec.Delta = &d
	}
	return &rec, nil
}
