package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/pricetracker/config"
	"sjsage522/pricetracker/helpers"
	"sjsage522/pricetracker/internal/item"
	trackererrors "sjsage522/pricetracker/pkg/errors"
	"sjsage522/pricetracker/services/publisher"
	"sjsage522/pricetracker/services/source"
	"sjsage522/pricetracker/services/source/sourcetest"
	"sjsage522/pricetracker/services/store"
)

// Ensure the in-memory stream can back a RedisSource
var _ source.StreamClient = (*sourcetest.Stream)(nil)

// MockSource implements the source.Source interface for testing
type MockSource struct {
	mu      sync.Mutex
	batches [][]source.Message
	acked   []string
	readErr error
	reads   int
}

// Ensure MockSource implements source.Source
var _ source.Source = (*MockSource)(nil)

func (m *MockSource) Read(ctx context.Context) ([]source.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *MockSource) Ack(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, ids...)
	return nil
}

func (m *MockSource) Close() error {
	return nil
}

// MockPublisher implements the publisher.Publisher interface for testing
type MockPublisher struct {
	mu       sync.Mutex
	messages [][]byte
	keys     []string
	trims    int
}

// Ensure MockPublisher implements publisher.Publisher
var _ publisher.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the message to ensure thread safety
	messageCopy := make([]byte, len(message))
	copy(messageCopy, message)

	m.keys = append(m.keys, key)
	m.messages = append(m.messages, messageCopy)
	return nil
}

func (m *MockPublisher) TrimStreams() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

func (m *MockPublisher) outcomes(t *testing.T) []item.Outcome {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []item.Outcome
	for _, msg := range m.messages {
		var o item.Outcome
		require.NoError(t, json.Unmarshal(msg, &o))
		out = append(out, o)
	}
	return out
}

// failingStore rejects every transaction
type failingStore struct{}

func (failingStore) InTx(ctx context.Context, fn func(item.Repositories) error) error {
	return trackererrors.NewPersistence("store", "begin transaction failed", errors.New("database is locked"))
}

// faultyStore runs real transactions but fails every lookup of one key,
// the way Postgres rejects a key it cannot encode
type faultyStore struct {
	*store.Store
	failKey string
}

func (f faultyStore) InTx(ctx context.Context, fn func(item.Repositories) error) error {
	return f.Store.InTx(ctx, func(repos item.Repositories) error {
		repos.Items = failingItems{ItemRepository: repos.Items, key: f.failKey}
		return fn(repos)
	})
}

type failingItems struct {
	item.ItemRepository
	key string
}

func (f failingItems) FindByStoreProductID(ctx context.Context, storeProductID string) (*item.StoredItem, error) {
	if storeProductID == f.key {
		return nil, trackererrors.NewPersistence("items", "query failed", errors.New("invalid byte sequence for encoding UTF8"))
	}
	return f.ItemRepository.FindByStoreProductID(ctx, storeProductID)
}

// recordingChanges keeps change log entries in memory
type recordingChanges struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingChanges) LogChange(entries ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Ensure(context.Background()))
	return s
}

func payload(t *testing.T, price float64, promo string) []byte {
	t.Helper()
	return payloadFor(t, "DEB-1001", price, promo)
}

func payloadFor(t *testing.T, key string, price float64, promo string) []byte {
	t.Helper()
	snapshot := item.ScrapedItem{
		Title:          "Stainless Kettle",
		Price:          price,
		StoreProductID: key,
		URL:            "https://example.com/p/1001",
		StoreID:        3,
		Date:           "2024-05-01",
		Time:           "10:00:00",
	}
	if promo != "" {
		snapshot.Promo = &promo
	}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	return data
}

func message(id string, payloads ...[]byte) source.Message {
	return source.Message{ID: id, Payloads: payloads}
}

// TestWorkerProcessBatch tests reconciliation and publishing of a batch
func TestWorkerProcessBatch(t *testing.T) {
	ctx := context.Background()
	mockSource := &MockSource{}
	mockPublisher := &MockPublisher{}

	w := NewWorker(ctx, mockSource, openStore(t), mockPublisher, helpers.NopChangeLog{})

	w.processBatch([]source.Message{
		message("1-0", payload(t, 100, "")),
		message("2-0", payload(t, 100, "")),
		message("3-0", payload(t, 90, "SALE")),
	})

	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, mockSource.acked)
	assert.Equal(t, 1, mockPublisher.trims)

	// the unchanged snapshot publishes nothing
	outcomes := mockPublisher.outcomes(t)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Created)
	assert.True(t, outcomes[1].PriceChanged)
	require.NotNil(t, outcomes[1].Delta)
	assert.InDelta(t, -10.0, *outcomes[1].Delta, 1e-9)
	assert.Equal(t, item.PromoAdded, outcomes[1].PromoAction)
	assert.Equal(t, []string{OutcomeKey, OutcomeKey}, mockPublisher.keys)
}

// TestWorkerDropsMalformedSnapshots tests that bad input is acknowledged and skipped
func TestWorkerDropsMalformedSnapshots(t *testing.T) {
	ctx := context.Background()
	mockSource := &MockSource{}
	mockPublisher := &MockPublisher{}

	w := NewWorker(ctx, mockSource, openStore(t), mockPublisher, helpers.NopChangeLog{})

	w.processBatch([]source.Message{
		message("1-0", []byte("{not json")),
		message("2-0", []byte(`{"title":"no key","price":3}`)),
		message("3-0", []byte(`{"store_product_id":"X","price":-4}`)),
	})

	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, mockSource.acked)
	assert.Empty(t, mockPublisher.messages)
}

// TestWorkerKeepsFailedMessagesPending tests that persistence failures are not acknowledged
func TestWorkerKeepsFailedMessagesPending(t *testing.T) {
	ctx := context.Background()
	mockSource := &MockSource{}
	mockPublisher := &MockPublisher{}

	w := NewWorker(ctx, mockSource, failingStore{}, mockPublisher, helpers.NopChangeLog{})

	w.processBatch([]source.Message{message("1-0", payload(t, 100, ""))})

	assert.Empty(t, mockSource.acked)
	assert.Empty(t, mockPublisher.messages)
}

// TestWorkerStartStopsOnCancel tests the read loop end to end
func TestWorkerStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockSource := &MockSource{batches: [][]source.Message{
		{message("1-0", payload(t, 100, ""))},
		{message("2-0", payload(t, 110, ""))},
	}}
	mockPublisher := &MockPublisher{}
	w := NewWorker(ctx, mockSource, openStore(t), mockPublisher, helpers.NopChangeLog{})

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	assert.Eventually(t, func() bool {
		mockSource.mu.Lock()
		defer mockSource.mu.Unlock()
		return len(mockSource.acked) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Len(t, mockPublisher.outcomes(t), 2)
}

// TestWorkerReadError tests that read errors are logged and retried after a pause
func TestWorkerReadError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mockSource := &MockSource{readErr: fmt.Errorf("connection refused")}
	w := NewWorker(ctx, mockSource, openStore(t), &MockPublisher{}, helpers.NopChangeLog{})
	w.idleWait = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	assert.Eventually(t, func() bool {
		mockSource.mu.Lock()
		defer mockSource.mu.Unlock()
		return mockSource.reads >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

// TestWorkerRollsBackPartialMessage tests that a message whose second snapshot
// fails commits nothing, and that its redelivery applies each snapshot once
func TestWorkerRollsBackPartialMessage(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	mockSource := &MockSource{}
	mockPublisher := &MockPublisher{}
	changes := &recordingChanges{}

	msg := message("1-0", payloadFor(t, "DEB-1001", 100, "SALE"), payloadFor(t, "DEB-BAD", 50, ""))

	w := NewWorker(ctx, mockSource, faultyStore{Store: st, failKey: "DEB-BAD"}, mockPublisher, changes)
	assert.Equal(t, 0, w.processBatch([]source.Message{msg}))

	assert.Empty(t, mockSource.acked)
	assert.Empty(t, mockPublisher.messages)
	assert.Empty(t, changes.entries, "rolled back changes are not logged")
	_, err := st.Repositories().Items.FindByStoreProductID(ctx, "DEB-1001")
	assert.True(t, trackererrors.IsNotFound(err), "first snapshot was rolled back")

	// redelivery once the store recovers
	w = NewWorker(ctx, mockSource, st, mockPublisher, changes)
	assert.Equal(t, 1, w.processBatch([]source.Message{msg}))

	assert.Equal(t, []string{"1-0"}, mockSource.acked)
	outcomes := mockPublisher.outcomes(t)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Created)
	assert.Equal(t, "DEB-1001", outcomes[0].StoreProductID)
	assert.True(t, outcomes[1].Created)
	assert.Equal(t, "DEB-BAD", outcomes[1].StoreProductID)
	assert.NotEmpty(t, changes.entries)

	stored, err := st.Repositories().Items.FindByStoreProductID(ctx, "DEB-1001")
	require.NoError(t, err)
	history, err := st.PriceHistory(ctx, stored.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// TestWorkerSkipsInvalidSnapshotInsideMessage tests that an invalid snapshot
// does not hold back the valid ones sharing its message
func TestWorkerSkipsInvalidSnapshotInsideMessage(t *testing.T) {
	ctx := context.Background()
	mockSource := &MockSource{}
	mockPublisher := &MockPublisher{}

	w := NewWorker(ctx, mockSource, openStore(t), mockPublisher, helpers.NopChangeLog{})
	w.processBatch([]source.Message{
		message("1-0", []byte(`{"store_product_id":"","price":3}`), payload(t, 100, "")),
	})

	assert.Equal(t, []string{"1-0"}, mockSource.acked)
	require.Len(t, mockPublisher.outcomes(t), 1)
}

// TestWorkerConsumesPastStuckEntry tests that an entry left pending by a
// previous run, and failing every time, does not stop new snapshots
func TestWorkerConsumesPastStuckEntry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := sourcetest.NewStream("snapshots")
	stuck := stream.Add(map[string]interface{}{"raw": string(payloadFor(t, "DEB-BAD", 50, ""))})
	stream.Deliver(1)
	fresh := stream.Add(map[string]interface{}{"raw": string(payload(t, 100, ""))})

	src := source.NewRedisSource(stream, "snapshots", "group", "consumer", 10, 5*time.Millisecond)
	mockPublisher := &MockPublisher{}
	w := NewWorker(ctx, src, faultyStore{Store: openStore(t), failKey: "DEB-BAD"}, mockPublisher, helpers.NopChangeLog{})
	w.idleWait = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	assert.Eventually(t, func() bool {
		mockPublisher.mu.Lock()
		published := len(mockPublisher.messages)
		mockPublisher.mu.Unlock()
		pending := stream.Pending()
		return published == 1 && len(pending) == 1 && pending[0] == stuck
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	outcomes := mockPublisher.outcomes(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "DEB-1001", outcomes[0].StoreProductID)
	assert.NotContains(t, stream.Pending(), fresh)

	reads := stream.ReadIDs()
	require.NotEmpty(t, reads)
	assert.Equal(t, "0", reads[0])
	for _, id := range reads[1:] {
		assert.Equal(t, ">", id, "the stuck entry is not read again")
	}
}

// TestWorkerBacksOffWhenNothingAcked tests that a batch with no acknowledged
// messages pauses the read loop
func TestWorkerBacksOffWhenNothingAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mockSource := &MockSource{batches: [][]source.Message{
		{message("1-0", payload(t, 100, ""))},
		{message("1-0", payload(t, 100, ""))},
	}}
	w := NewWorker(ctx, mockSource, failingStore{}, &MockPublisher{}, helpers.NopChangeLog{})
	w.idleWait = time.Hour

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	reads := func() int {
		mockSource.mu.Lock()
		defer mockSource.mu.Unlock()
		return mockSource.reads
	}
	assert.Eventually(t, func() bool { return reads() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return reads() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Empty(t, mockSource.acked)
}
