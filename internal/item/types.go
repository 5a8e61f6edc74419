package item

import (
	"fmt"
	"strconv"
)

// Date and time layouts used for price observations
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// ScrapedItem is one scraped observation of a product
type ScrapedItem struct {
	Title          string  `json:"title"`
	Price          float64 `json:"price"`
	StoreProductID string  `json:"store_product_id"`
	URL            string  `json:"url"`
	ImageURL       string  `json:"image_url,omitempty"`
	StoreID        int64   `json:"store_id"`
	Date           string  `json:"date,omitempty"`
	Time           string  `json:"time,omitempty"`
	Promo          *string `json:"promo,omitempty"`
	PromoURL       *string `json:"promo_url,omitempty"`
}

// HasPromo reports whether the snapshot carries a promotion
func (s *ScrapedItem) HasPromo() bool {
	return s.Promo != nil
}

func (s ScrapedItem) String() string {
	return fmt.Sprintf("Title: %s\nPrice: %s\nProduct ID: %s\nURL: %s\nImage URL: %s\nPromo: %s\nPromo URL: %s",
		s.Title, formatPrice(s.Price), s.StoreProductID, s.URL, s.ImageURL, optional(s.Promo), optional(s.PromoURL))
}

// StoredItem is the persisted identity of a product
type StoredItem struct {
	ID             int64  `json:"id"`
	StoreID        int64  `json:"store_id"`
	StoreProductID string `json:"store_product_id"`
	Title          string `json:"title"`
	URL            string `json:"url"`
}

func (i StoredItem) String() string {
	return fmt.Sprintf("Item ID: %d\nStore ID: %d\nProduct ID: %s\nTitle: %s\nURL: %s",
		i.ID, i.StoreID, i.StoreProductID, i.Title, i.URL)
}

// ItemImage is the image recorded when an item is first seen
type ItemImage struct {
	ID     int64
	ItemID int64
	ImgSrc string
}

// PriceRecord is one entry of an item's append-only price history
type PriceRecord struct {
	ID     int64
	ItemID int64
	Date   string
	Time   string
	Price  float64
	// Delta is the percentage change against the previous record, nil for the first one
	Delta *float64
}

func (p PriceRecord) String() string {
	delta := "None"
	if p.Delta != nil {
		delta = strconv.FormatFloat(*p.Delta, 'f', 1, 64)
	}
	return fmt.Sprintf("Item ID: %d\nDate: %s\nTime: %s\nPrice: %s\nDelta: %s",
		p.ItemID, p.Date, p.Time, formatPrice(p.Price), delta)
}

// PromoRecord is the single live promotion slot of an item
type PromoRecord struct {
	ID       int64
	ItemID   int64
	Promo    string
	PromoURL *string
}

func (p PromoRecord) String() string {
	return fmt.Sprintf("Item ID: %d\nPromo: %s\nPromo URL: %s", p.ItemID, p.Promo, optional(p.PromoURL))
}

// PromoAction describes what happened to the promotion slot
type PromoAction string

const (
	PromoNone     PromoAction = "none"
	PromoAdded    PromoAction = "added"
	PromoRemoved  PromoAction = "removed"
	PromoReplaced PromoAction = "replaced"
)

// Outcome summarises the writes made by one reconciliation
type Outcome struct {
	ItemID         int64       `json:"item_id"`
	StoreProductID string      `json:"store_product_id"`
	Created        bool        `json:"created"`
	PriceChanged   bool        `json:"price_changed"`
	PreviousPrice  *float64    `json:"previous_price,omitempty"`
	Price          float64     `json:"price"`
	Delta          *float64    `json:"delta,omitempty"`
	PromoAction    PromoAction `json:"promo_action"`
	PreviousPromo  *string     `json:"previous_promo,omitempty"`
	Promo          *string     `json:"promo,omitempty"`
}

// Changed reports whether anything was written
func (o *Outcome) Changed() bool {
	return o.Created || o.PriceChanged || o.PromoAction != PromoNone
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func optional(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}
