package item

import (
	"context"
	"fmt"
	"sync"

	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// memoryStore implements every repository over in-memory slices
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	items  []StoredItem
	images []ItemImage
	prices []PriceRecord
	promos []PromoRecord

	promoDeletes int
	failOn       string
}

type memItems struct{ s *memoryStore }
type memImages struct{ s *memoryStore }
type memPrices struct{ s *memoryStore }
type memPromos struct{ s *memoryStore }

// Ensure the mocks implement the repository interfaces
var (
	_ ItemRepository  = memItems{}
	_ ImageRepository = memImages{}
	_ PriceRepository = memPrices{}
	_ PromoRepository = memPromos{}
)

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) repositories() Repositories {
	return Repositories{
		Items:  memItems{s},
		Images: memImages{s},
		Prices: memPrices{s},
		Promos: memPromos{s},
	}
}

func (s *memoryStore) fail(op string) error {
	if s.failOn == op {
		return trackererrors.NewPersistence(op, "forced failure", fmt.Errorf("disk full"))
	}
	return nil
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (r memItems) FindByStoreProductID(_ context.Context, key string) (*StoredItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("items.find"); err != nil {
		return nil, err
	}
	for _, it := range r.s.items {
		if it.StoreProductID == key {
			found := it
			return &found, nil
		}
	}
	return nil, trackererrors.NewNotFound("items", key)
}

func (r memItems) Insert(_ context.Context, it *StoredItem) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("items.insert"); err != nil {
		return 0, err
	}
	it.ID = r.s.id()
	r.s.items = append(r.s.items, *it)
	return it.ID, nil
}

func (r memImages) Insert(_ context.Context, img *ItemImage) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img.ID = r.s.id()
	r.s.images = append(r.s.images, *img)
	return img.ID, nil
}

func (r memPrices) FindLatestByItemID(_ context.Context, itemID int64) (*PriceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.prices) - 1; i >= 0; i-- {
		if r.s.prices[i].ItemID == itemID {
			found := r.s.prices[i]
			return &found, nil
		}
	}
	return nil, trackererrors.NewNotFound("item_prices", fmt.Sprint(itemID))
}

func (r memPrices) Insert(_ context.Context, rec *PriceRecord) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("prices.insert"); err != nil {
		return 0, err
	}
	rec.ID = r.s.id()
	r.s.prices = append(r.s.prices, *rec)
	return rec.ID, nil
}

func (r memPromos) FindByItemID(_ context.Context, itemID int64) (*PromoRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.promos {
		if p.ItemID == itemID {
			found := p
			return &found, nil
		}
	}
	return nil, trackererrors.NewNotFound("item_promos", fmt.Sprint(itemID))
}

func (r memPromos) Insert(_ context.Context, p *PromoRecord) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.promos {
		if existing.ItemID == p.ItemID {
			return 0, trackererrors.NewPersistence("item_promos", "duplicate promo", nil)
		}
	}
	p.ID = r.s.id()
	r.s.promos = append(r.s.promos, *p)
	return p.ID, nil
}

func (r memPromos) DeleteByItemID(_ context.Context, itemID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("promos.delete"); err != nil {
		return err
	}
	kept := r.s.promos[:0]
	for _, p := range r.s.promos {
		if p.ItemID != itemID {
			kept = append(kept, p)
		}
	}
	r.s.promos = kept
	r.s.promoDeletes++
	return nil
}

// recordingChangeLog captures change log entries
type recordingChangeLog struct {
	mu      sync.Mutex
	entries [][]string
}

func (l *recordingChangeLog) LogChange(entries ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries)
}
