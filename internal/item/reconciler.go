package item

import (
	"context"
	"fmt"
	"time"

	"sjsage522/pricetracker/helpers"
	"sjsage522/pricetracker/logger"
	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// Reconciler brings stored item state in line with a scraped snapshot.
// It assumes at most one reconciliation per item is in flight.
type Reconciler struct {
	repos   Repositories
	changes helpers.ChangeLogger
	log     *logger.Logger
	now     func() time.Time
}

// NewReconciler creates a reconciler writing through repos
func NewReconciler(repos Repositories, changes helpers.ChangeLogger, log *logger.Logger) *Reconciler {
	if changes == nil {
		changes = helpers.NopChangeLog{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		repos:   repos,
		changes: changes,
		log:     log,
		now:     time.Now,
	}
}

// Reconcile records a first sighting, or appends a price change and
// updates the promotion slot of a known item.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot ScrapedItem) (*Outcome, error) {
	snapshot.Normalize()
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	if snapshot.Date == "" || snapshot.Time == "" {
		now := r.now()
		if snapshot.Date == "" {
			snapshot.Date = now.Format(DateLayout)
		}
		if snapshot.Time == "" {
			snapshot.Time = now.Format(TimeLayout)
		}
	}

	log := r.log.WithItem(snapshot.StoreProductID)

	stored, err := r.repos.Items.FindByStoreProductID(ctx, snapshot.StoreProductID)
	if err != nil && !trackererrors.IsNotFound(err) {
		return nil, fmt.Errorf("find item: %w", err)
	}
	if stored == nil {
		return r.create(ctx, snapshot, log)
	}

	outcome := &Outcome{
		ItemID:         stored.ID,
		StoreProductID: stored.StoreProductID,
		Price:          snapshot.Price,
		PromoAction:    PromoNone,
	}

	if err := r.reconcilePrice(ctx, snapshot, stored, outcome, log); err != nil {
		return nil, err
	}
	if err := r.reconcilePromo(ctx, snapshot, stored, outcome, log); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (r *Reconciler) create(ctx context.Context, snapshot ScrapedItem, log *logger.Logger) (*Outcome, error) {
	stored := &StoredItem{
		StoreID:        snapshot.StoreID,
		StoreProductID: snapshot.StoreProductID,
		Title:          snapshot.Title,
		URL:            snapshot.URL,
	}
	itemID, err := r.repos.Items.Insert(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	if _, err := r.repos.Images.Insert(ctx, &ItemImage{ItemID: itemID, ImgSrc: snapshot.ImageURL}); err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}

	record := &PriceRecord{
		ItemID: itemID,
		Date:   snapshot.Date,
		Time:   snapshot.Time,
		Price:  snapshot.Price,
	}
	if _, err := r.repos.Prices.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("insert price: %w", err)
	}

	log.Info().
		Int64("item_id", itemID).
		Float64("price", snapshot.Price).
		Msg("New item recorded")

	return &Outcome{
		ItemID:         itemID,
		StoreProductID: snapshot.StoreProductID,
		Created:        true,
		Price:          snapshot.Price,
		PromoAction:    PromoNone,
	}, nil
}

func (r *Reconciler) reconcilePrice(ctx context.Context, snapshot ScrapedItem, stored *StoredItem, outcome *Outcome, log *logger.Logger) error {
	last, err := r.repos.Prices.FindLatestByItemID(ctx, stored.ID)
	if err != nil && !trackererrors.IsNotFound(err) {
		return fmt.Errorf("find latest price: %w", err)
	}
	if last != nil && last.Price == snapshot.Price {
		return nil
	}

	record := &PriceRecord{
		ItemID: stored.ID,
		Date:   snapshot.Date,
		Time:   snapshot.Time,
		Price:  snapshot.Price,
	}
	if last != nil {
		delta, err := ComputeDelta(last.Price, snapshot.Price)
		if err != nil {
			log.Warn().Err(err).Msg("Recording price without delta")
		} else {
			record.Delta = &delta
		}
	} else {
		log.Warn().Int64("item_id", stored.ID).Msg("Known item has no price history")
	}

	id, err := r.repos.Prices.Insert(ctx, record)
	if err != nil {
		return fmt.Errorf("insert price: %w", err)
	}
	record.ID = id

	outcome.PriceChanged = true
	outcome.Delta = record.Delta
	if last != nil {
		previous := last.Price
		outcome.PreviousPrice = &previous
		r.changes.LogChange(snapshot.String(), stored.String(), last.String(), record.String())
	}

	event := log.Info().Int64("item_id", stored.ID).Float64("price", snapshot.Price)
	if record.Delta != nil {
		event = event.Float64("delta", *record.Delta)
	}
	event.Msg("Price changed")
	return nil
}

func (r *Reconciler) reconcilePromo(ctx context.Context, snapshot ScrapedItem, stored *StoredItem, outcome *Outcome, log *logger.Logger) error {
	current, err := r.repos.Promos.FindByItemID(ctx, stored.ID)
	if err != nil && !trackererrors.IsNotFound(err) {
		return fmt.Errorf("find promo: %w", err)
	}

	if current != nil {
		previous := current.Promo
		outcome.PreviousPromo = &previous

		if err := r.repos.Promos.DeleteByItemID(ctx, stored.ID); err != nil {
			return fmt.Errorf("delete promo: %w", err)
		}
		outcome.PromoAction = PromoRemoved
	}

	if !snapshot.HasPromo() {
		if current != nil {
			log.Debug().Str("promo", current.Promo).Msg("Promo removed")
		}
		return nil
	}

	// An existing promo is replaced even when the text is unchanged.
	promo := &PromoRecord{ItemID: stored.ID, Promo: *snapshot.Promo, PromoURL: snapshot.PromoURL}
	if _, err := r.repos.Promos.Insert(ctx, promo); err != nil {
		return fmt.Errorf("insert promo: %w", err)
	}

	if current != nil {
		outcome.PromoAction = PromoReplaced
	} else {
		outcome.PromoAction = PromoAdded
	}
	outcome.Promo = snapshot.Promo

	log.Debug().Str("promo", promo.Promo).Str("action", string(outcome.PromoAction)).Msg("Promo stored")
	return nil
}
