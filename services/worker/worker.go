package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sjsage522/pricetracker/helpers"
	"sjsage522/pricetracker/internal/item"
	"sjsage522/pricetracker/logger"
	trackererrors "sjsage522/pricetracker/pkg/errors"
	"sjsage522/pricetracker/services/publisher"
	"sjsage522/pricetracker/services/source"
)

// OutcomeKey is the stream field carrying published outcomes
const OutcomeKey = "b64_outcome"

// TxRunner runs a function with repositories bound to one transaction
type TxRunner interface {
	InTx(ctx context.Context, fn func(item.Repositories) error) error
}

// Worker reconciles snapshots read from a source, one message at a time,
// and publishes what changed
type Worker struct {
	ctx       context.Context
	source    source.Source
	store     TxRunner
	publisher publisher.Publisher
	changes   helpers.ChangeLogger
	log       *logger.Logger
	idleWait  time.Duration
}

// NewWorker creates a new worker
func NewWorker(
	ctx context.Context,
	src source.Source,
	store TxRunner,
	pub publisher.Publisher,
	changes helpers.ChangeLogger,
) *Worker {
	if changes == nil {
		changes = helpers.NopChangeLog{}
	}
	return &Worker{
		ctx:       ctx,
		source:    src,
		store:     store,
		publisher: pub,
		changes:   changes,
		log:       logger.ForWorker(),
		idleWait:  time.Second,
	}
}

// Start runs until the worker context is cancelled
func (w *Worker) Start() error {
	for {
		if w.ctx.Err() != nil {
			return nil
		}

		messages, err := w.source.Read(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return nil
			}
			w.log.WithError(err).Error().Msg("Failed to read snapshots")
			w.wait()
			continue
		}
		if len(messages) == 0 {
			continue
		}

		// nothing acknowledged means the store is failing; back off
		if w.processBatch(messages) == 0 {
			w.wait()
		}
	}
}

// processBatch handles messages in order, trims the event stream and
// returns how many messages were acknowledged
func (w *Worker) processBatch(messages []source.Message) int {
	start := time.Now()
	var acked []string
	for _, msg := range messages {
		if w.processMessage(msg) {
			acked = append(acked, msg.ID)
		}
	}

	if err := w.source.Ack(w.ctx, acked...); err != nil {
		w.log.Error().Err(err).Msg("Failed to acknowledge snapshots")
	}
	if err := w.publisher.TrimStreams(); err != nil {
		w.log.Error().Err(err).Msg("Failed to trim event stream")
	}

	w.log.Debug().
		Int("messages", len(messages)).
		Int("acked", len(acked)).
		Dur("elapsed", time.Since(start)).
		Msg("Batch processed")
	return len(acked)
}

// processMessage reports whether the message may be acknowledged.
// All snapshots of a message commit together or not at all. Snapshots that
// can never succeed are dropped; retryable failures leave the message pending.
func (w *Worker) processMessage(msg source.Message) bool {
	log := w.log.WithFields(logger.Fields{
		"message_id": msg.ID,
		"payloads":   len(msg.Payloads),
	})

	snapshots := make([]item.ScrapedItem, 0, len(msg.Payloads))
	for _, payload := range msg.Payloads {
		var snapshot item.ScrapedItem
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable snapshot")
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	if len(snapshots) == 0 {
		return true
	}

	changes := &pendingChanges{}
	var outcomes []*item.Outcome
	err := w.store.InTx(w.ctx, func(repos item.Repositories) error {
		reconciler := item.NewReconciler(repos, changes, logger.ForReconciler())
		for _, snapshot := range snapshots {
			outcome, err := reconciler.Reconcile(w.ctx, snapshot)
			if err != nil {
				if !trackererrors.IsRetryable(err) {
					log.Warn().Err(err).Str("store_product_id", snapshot.StoreProductID).Msg("Dropping invalid snapshot")
					continue
				}
				return fmt.Errorf("reconcile %q: %w", snapshot.StoreProductID, err)
			}
			if outcome.Changed() {
				outcomes = append(outcomes, outcome)
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error().Msg("Reconciliation failed, message left pending")
		return false
	}

	changes.flush(w.changes)
	for _, outcome := range outcomes {
		w.publish(outcome)
	}
	return true
}

func (w *Worker) publish(outcome *item.Outcome) {
	data, err := json.Marshal(outcome)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to encode outcome")
		return
	}
	if err := w.publisher.Publish(OutcomeKey, data); err != nil {
		w.log.Error().Err(err).Int64("item_id", outcome.ItemID).Msg("Failed to publish outcome")
	}
}

func (w *Worker) wait() {
	select {
	case <-w.ctx.Done():
	case <-time.After(w.idleWait):
	}
}

// pendingChanges holds change log entries until their transaction commits
type pendingChanges struct {
	mu      sync.Mutex
	entries [][]string
}

func (p *pendingChanges) LogChange(entries ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entries)
}

func (p *pendingChanges) flush(to helpers.ChangeLogger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entries := range p.entries {
		to.LogChange(entries...)
	}
	p.entries = nil
}
