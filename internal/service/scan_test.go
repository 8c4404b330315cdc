package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"martstock-api/internal/model"
	"martstock-api/internal/repository"
	"martstock-api/pkg/apierror"

	"github.com/shopspring/decimal"
)

// Mock Store
type mockStore struct {
	mu        sync.Mutex
	products  map[string]model.Product
	batches   map[string]model.Batch
	auditLogs []model.AuditLog

	loadErr  error
	auditErr error

	// loadHook runs at the top of LoadProducts, outside the lock.
	loadHook func()
	// getBatchHook runs after each GetBatch read, outside the lock.
	getBatchHook func()

	loadCalls       int
	getProductCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		products: make(map[string]model.Product),
		batches:  make(map[string]model.Batch),
	}
}

func (m *mockStore) LoadProducts(ctx context.Context) ([]model.Product, error) {
	m.mu.Lock()
	hook := m.loadHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	list := make([]model.Product, 0, len(m.products))
	for _, p := range m.products {
		list = append(list, p)
	}
	return list, nil
}

func (m *mockStore) LoadBatches(ctx context.Context) ([]model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	list := make([]model.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		list = append(list, b)
	}
	return list, nil
}

func (m *mockStore) LoadAuditLogs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	list := make([]model.AuditLog, len(m.auditLogs))
	copy(list, m.auditLogs)
	return list, nil
}

func (m *mockStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getProductCalls++
	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *mockStore) InsertProduct(ctx context.Context, p model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Barcode != nil {
		for _, other := range m.products {
			if other.Barcode != nil && *other.Barcode == *p.Barcode {
				return repository.ErrBarcodeTaken
			}
		}
	}
	m.products[p.ID] = p
	return nil
}

func (m *mockStore) UpdateProduct(ctx context.Context, p model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return repository.ErrNotFound
	}
	m.products[p.ID] = p
	return nil
}

func (m *mockStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	m.mu.Lock()
	b, ok := m.batches[id]
	hook := m.getBatchHook
	m.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return &b, nil
}

func (m *mockStore) InsertBatch(ctx context.Context, b model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.batches {
		if other.ProductID == b.ProductID && other.BatchCode == b.BatchCode {
			return repository.ErrBatchCodeTaken
		}
	}
	m.batches[b.ID] = b
	return nil
}

func (m *mockStore) AdjustBatchQuantity(ctx context.Context, batchID string, delta int) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if b.Quantity+delta < 0 {
		return nil, repository.ErrStockConflict
	}
	b.Quantity += delta
	m.batches[batchID] = b
	return &b, nil
}

func (m *mockStore) SetBatchQuantity(ctx context.Context, batchID string, target, observed int) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if b.Quantity != observed {
		return nil, repository.ErrStockConflict
	}
	b.Quantity = target
	m.batches[batchID] = b
	return &b, nil
}

func (m *mockStore) InsertAuditLog(ctx context.Context, entry model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.auditLogs = append(m.auditLogs, entry)
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) batchQuantity(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[id].Quantity
}

func (m *mockStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.auditLogs)
}

func (m *mockStore) lastAudit() model.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auditLogs[len(m.auditLogs)-1]
}

// Mock Connectivity
type mockMonitor struct {
	mu          sync.Mutex
	online      bool
	transitions chan bool
}

func newMockMonitor(online bool) *mockMonitor {
	return &mockMonitor{online: online, transitions: make(chan bool, 4)}
}

func (m *mockMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *mockMonitor) Transitions() <-chan bool { return m.transitions }

func (m *mockMonitor) flip(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
	m.transitions <- online
}

// Mock ChangePublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, event model.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) published() []model.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]model.ChangeEvent, len(m.events))
	copy(list, m.events)
	return list
}

func seedStore() *mockStore {
	store := newMockStore()
	store.products["p1"] = model.Product{
		ID: "p1", Name: "Milk 1L", Price: decimal.RequireFromString("2.50"), SKU: "MLK-1",
	}
	store.batches["b1"] = model.Batch{
		ID: "b1", ProductID: "p1", BatchCode: "B1", Quantity: 10,
		ExpiryDate: time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
	}
	return store
}

func newTestEngine(t *testing.T, store *mockStore, monitor *mockMonitor) (*Engine, *mockPublisher) {
	t.Helper()

	pub := &mockPublisher{}
	engine := NewEngine(EngineOptions{
		Store:     store,
		Publisher: pub,
		Monitor:   monitor,
		Events:    make(chan model.ChangeEvent),
		QueueSize: 16,
	})
	_ = engine.Start(context.Background())
	t.Cleanup(engine.Close)
	return engine, pub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func apiCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierror.Error, got %T: %v", err, err)
	}
	return apiErr.Code
}

func TestScanIn_ExistingBatch(t *testing.T) {
	store := seedStore()
	engine, pub := newTestEngine(t, store, newMockMonitor(true))

	batch, err := engine.ScanIn(context.Background(), "ops@example.com", "p1", "b1", 5, "", time.Time{})
	if err != nil {
		t.Fatalf("scan in failed: %v", err)
	}
	if batch.Quantity != 15 {
		t.Errorf("expected confirmed quantity 15, got %d", batch.Quantity)
	}
	if store.batchQuantity("b1") != 15 {
		t.Errorf("expected store quantity 15, got %d", store.batchQuantity("b1"))
	}

	if store.auditCount() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", store.auditCount())
	}
	entry := store.lastAudit()
	if entry.Action != model.ActionScanIn || entry.UserEmail != "ops@example.com" {
		t.Errorf("unexpected audit entry: %+v", entry)
	}
	if entry.Details.ProductName != "Milk 1L" || entry.Details.QuantityAdded != 5 {
		t.Errorf("unexpected audit details: %+v", entry.Details)
	}

	// Both the batch update and the audit insert are broadcast.
	events := pub.published()
	if len(events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(events))
	}
	if events[0].Table != model.TableBatches || events[0].Op != model.OpUpdate {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Table != model.TableAuditLogs || events[1].Op != model.OpInsert {
		t.Errorf("unexpected second event: %+v", events[1])
	}

	// The confirmation lands in the local cache without a stream round-trip.
	waitFor(t, "cache to reflect confirmed batch", func() bool {
		return engine.Snapshot().TotalStock("p1") == 15
	})
}

func TestScanIn_NewBatch(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	batch, err := engine.ScanIn(context.Background(), "ops@example.com", "p1", "", 20, "LOT-A", expiry)
	if err != nil {
		t.Fatalf("scan in failed: %v", err)
	}
	if batch.ID == "" {
		t.Error("expected generated batch id")
	}
	if batch.BatchCode != "LOT-A" || batch.Quantity != 20 {
		t.Errorf("unexpected batch: %+v", batch)
	}
	if store.batchQuantity(batch.ID) != 20 {
		t.Errorf("expected store quantity 20, got %d", store.batchQuantity(batch.ID))
	}
}

func TestScanIn_Validation(t *testing.T) {
	engine, _ := newTestEngine(t, seedStore(), newMockMonitor(true))
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"zero quantity", func() error {
			_, err := engine.ScanIn(ctx, "ops@example.com", "p1", "b1", 0, "", time.Time{})
			return err
		}},
		{"negative quantity", func() error {
			_, err := engine.ScanIn(ctx, "ops@example.com", "p1", "b1", -3, "", time.Time{})
			return err
		}},
		{"missing user", func() error {
			_, err := engine.ScanIn(ctx, "", "p1", "b1", 1, "", time.Time{})
			return err
		}},
		{"missing product", func() error {
			_, err := engine.ScanIn(ctx, "ops@example.com", "", "b1", 1, "", time.Time{})
			return err
		}},
		{"new batch without code", func() error {
			_, err := engine.ScanIn(ctx, "ops@example.com", "p1", "", 1, "", time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC))
			return err
		}},
		{"new batch without expiry", func() error {
			_, err := engine.ScanIn(ctx, "ops@example.com", "p1", "", 1, "LOT-A", time.Time{})
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if code := apiCode(t, err); code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}
}

func TestScanOut_Success(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	batch, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b1", 4)
	if err != nil {
		t.Fatalf("scan out failed: %v", err)
	}
	if batch.Quantity != 6 {
		t.Errorf("expected quantity 6, got %d", batch.Quantity)
	}

	entry := store.lastAudit()
	if entry.Action != model.ActionScanOut || entry.Details.QuantityRemoved != 4 {
		t.Errorf("unexpected audit entry: %+v", entry)
	}
}

func TestScanOut_DrainToZero(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	batch, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b1", 10)
	if err != nil {
		t.Fatalf("scan out failed: %v", err)
	}
	if batch.Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", batch.Quantity)
	}
	// The zero-quantity batch row survives.
	if _, err := store.GetBatch(context.Background(), "b1"); err != nil {
		t.Errorf("expected batch to survive at zero quantity: %v", err)
	}
}

func TestScanOut_StockConflict(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	_, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b1", 11)
	if err == nil {
		t.Fatal("expected stock conflict")
	}
	if code := apiCode(t, err); code != "STOCK_CONFLICT" {
		t.Errorf("expected STOCK_CONFLICT, got %s", code)
	}
	// No audit entry for a rejected mutation.
	if store.auditCount() != 0 {
		t.Errorf("expected no audit entries, got %d", store.auditCount())
	}
	if store.batchQuantity("b1") != 10 {
		t.Errorf("expected quantity unchanged at 10, got %d", store.batchQuantity("b1"))
	}
}

func TestScanOut_BatchFromAnotherProduct(t *testing.T) {
	store := seedStore()
	store.products["p2"] = model.Product{
		ID: "p2", Name: "Bread", Price: decimal.RequireFromString("1.20"), SKU: "BRD-1",
	}
	store.batches["b2"] = model.Batch{
		ID: "b2", ProductID: "p2", BatchCode: "B2", Quantity: 5,
		ExpiryDate: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
	}
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	// b2 belongs to p2; naming p1 must not touch it.
	_, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b2", 3)
	if err == nil {
		t.Fatal("expected rejection for a batch owned by another product")
	}
	if code := apiCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
	if store.batchQuantity("b2") != 5 {
		t.Errorf("expected quantity unchanged at 5, got %d", store.batchQuantity("b2"))
	}
	if store.auditCount() != 0 {
		t.Errorf("expected no audit entries, got %d", store.auditCount())
	}
}

func TestScanIn_BatchFromAnotherProduct(t *testing.T) {
	store := seedStore()
	store.products["p2"] = model.Product{
		ID: "p2", Name: "Bread", Price: decimal.RequireFromString("1.20"), SKU: "BRD-1",
	}
	store.batches["b2"] = model.Batch{
		ID: "b2", ProductID: "p2", BatchCode: "B2", Quantity: 5,
		ExpiryDate: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
	}
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	_, err := engine.ScanIn(context.Background(), "ops@example.com", "p1", "b2", 3, "", time.Time{})
	if err == nil {
		t.Fatal("expected rejection for a batch owned by another product")
	}
	if code := apiCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
	if store.batchQuantity("b2") != 5 {
		t.Errorf("expected quantity unchanged at 5, got %d", store.batchQuantity("b2"))
	}
}

func TestScanIn_DuplicateBatchCode(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err := engine.ScanIn(context.Background(), "ops@example.com", "p1", "", 5, "B1", expiry)
	if err == nil {
		t.Fatal("expected batch code conflict")
	}
	if code := apiCode(t, err); code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %s", code)
	}
}

func TestScan_RejectedOffline(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(false))

	_, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b1", 1)
	if err == nil {
		t.Fatal("expected connectivity error")
	}
	if code := apiCode(t, err); code != "CONNECTIVITY_ERROR" {
		t.Errorf("expected CONNECTIVITY_ERROR, got %s", code)
	}

	// The refusal is resolved locally; the store is never consulted.
	store.mu.Lock()
	calls := store.getProductCalls
	store.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected no store calls while offline, got %d", calls)
	}
}

func TestScanIn_AuditFailureReportsPersistence(t *testing.T) {
	store := seedStore()
	store.auditErr = errors.New("disk full")
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	batch, err := engine.ScanIn(context.Background(), "ops@example.com", "p1", "b1", 5, "", time.Time{})
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if code := apiCode(t, err); code != "PERSISTENCE_ERROR" {
		t.Errorf("expected PERSISTENCE_ERROR, got %s", code)
	}
	// The batch mutation stands; no compensating write happens.
	if batch == nil || batch.Quantity != 15 {
		t.Errorf("expected confirmed batch alongside the error, got %+v", batch)
	}
	if store.batchQuantity("b1") != 15 {
		t.Errorf("expected store quantity 15, got %d", store.batchQuantity("b1"))
	}
}

func TestAdjust(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	batch, err := engine.Adjust(context.Background(), "ops@example.com", "b1", 3, "damaged goods")
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if batch.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", batch.Quantity)
	}

	entry := store.lastAudit()
	if entry.Action != model.ActionAdjust {
		t.Errorf("expected ADJUST action, got %s", entry.Action)
	}
	if entry.Details.OldQuantity != 10 || entry.Details.NewQuantity != 3 {
		t.Errorf("unexpected old/new pair: %+v", entry.Details)
	}
	if entry.Details.Reason != "damaged goods" {
		t.Errorf("expected reason recorded, got %q", entry.Details.Reason)
	}
}

func TestAdjust_NoOpStillAudited(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	if _, err := engine.Adjust(context.Background(), "ops@example.com", "b1", 10, "recount"); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if store.auditCount() != 1 {
		t.Errorf("expected audit entry for a no-op adjust, got %d", store.auditCount())
	}
}

func TestAdjust_ConcurrentChangeConflict(t *testing.T) {
	store := seedStore()
	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	// After the adjust reads quantity 10, another writer drains two units.
	var once sync.Once
	store.mu.Lock()
	store.getBatchHook = func() {
		once.Do(func() {
			store.mu.Lock()
			b := store.batches["b1"]
			b.Quantity = 8
			store.batches["b1"] = b
			store.mu.Unlock()
		})
	}
	store.mu.Unlock()

	_, err := engine.Adjust(context.Background(), "ops@example.com", "b1", 3, "recount")
	if err == nil {
		t.Fatal("expected conflict against the concurrent change")
	}
	if code := apiCode(t, err); code != "STOCK_CONFLICT" {
		t.Errorf("expected STOCK_CONFLICT, got %s", code)
	}
	// The concurrent writer's value stands; the stale adjust never lands.
	if store.batchQuantity("b1") != 8 {
		t.Errorf("expected quantity 8, got %d", store.batchQuantity("b1"))
	}
	if store.auditCount() != 0 {
		t.Errorf("expected no audit entries, got %d", store.auditCount())
	}
}

func TestLoadError_ScansRejectedUntilRetry(t *testing.T) {
	store := seedStore()
	store.loadErr = errors.New("store unreachable")
	monitor := newMockMonitor(true)

	pub := &mockPublisher{}
	engine := NewEngine(EngineOptions{
		Store:     store,
		Publisher: pub,
		Monitor:   monitor,
		Events:    make(chan model.ChangeEvent),
		QueueSize: 16,
	})
	if err := engine.Start(context.Background()); err == nil {
		t.Fatal("expected initial load to fail")
	}
	t.Cleanup(engine.Close)

	if engine.State() != StateLoadError {
		t.Fatalf("expected load_error state, got %s", engine.State())
	}

	_, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b1", 1)
	if code := apiCode(t, err); code != "LOAD_ERROR" {
		t.Errorf("expected LOAD_ERROR, got %s", code)
	}

	// Clear the fault; operators retry the load.
	store.mu.Lock()
	store.loadErr = nil
	store.mu.Unlock()

	if err := engine.RetryLoad(context.Background()); err != nil {
		t.Fatalf("retry load failed: %v", err)
	}
	if engine.State() != StateLoaded {
		t.Fatalf("expected loaded state, got %s", engine.State())
	}
	if _, err := engine.ScanOut(context.Background(), "ops@example.com", "p1", "b1", 1); err != nil {
		t.Errorf("expected scan to succeed after retry, got %v", err)
	}
}

func TestReconnect_TriggersReload(t *testing.T) {
	store := seedStore()
	monitor := newMockMonitor(true)
	engine, _ := newTestEngine(t, store, monitor)

	store.mu.Lock()
	initialLoads := store.loadCalls
	store.mu.Unlock()

	monitor.flip(false)
	waitFor(t, "engine to go offline", func() bool { return !engine.IsOnline() })

	// Events missed during the outage cannot be replayed, so reconnecting
	// forces a full reload.
	monitor.flip(true)
	waitFor(t, "engine to come back online", func() bool { return engine.IsOnline() })

	store.mu.Lock()
	loads := store.loadCalls
	store.mu.Unlock()
	if loads <= initialLoads {
		t.Errorf("expected a reload after reconnect, loads %d -> %d", initialLoads, loads)
	}
}

func TestReconnect_DiscardsQueuedStaleEvents(t *testing.T) {
	store := seedStore()
	monitor := newMockMonitor(true)
	events := make(chan model.ChangeEvent, 16)

	pub := &mockPublisher{}
	engine := NewEngine(EngineOptions{
		Store:     store,
		Publisher: pub,
		Monitor:   monitor,
		Events:    events,
		QueueSize: 16,
	})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(engine.Close)

	monitor.flip(false)
	waitFor(t, "engine to go offline", func() bool { return !engine.IsOnline() })

	// Hold the reconnect reload open so a leftover event can be queued
	// behind it.
	entered := make(chan struct{})
	release := make(chan struct{})
	store.mu.Lock()
	store.loadHook = func() {
		close(entered)
		<-release
	}
	store.mu.Unlock()

	monitor.flip(true)
	<-entered
	store.mu.Lock()
	store.loadHook = nil
	store.mu.Unlock()

	// A row buffered around the outage carries a quantity the reload
	// already supersedes. It must not survive the reload.
	events <- model.ChangeEvent{
		Table: model.TableBatches,
		Op:    model.OpUpdate,
		Row:   []byte(`{"id":"b1","product_id":"p1","batch_code":"B1","quantity":99,"expiry_date":"2026-09-03T00:00:00Z"}`),
	}
	close(release)

	waitFor(t, "engine to come back online", func() bool { return engine.IsOnline() })
	time.Sleep(50 * time.Millisecond)
	if got := engine.Snapshot().TotalStock("p1"); got != 10 {
		t.Errorf("expected reload quantity 10 to stand, got %d", got)
	}
}

func TestCreateProduct_DuplicateBarcode(t *testing.T) {
	store := seedStore()
	barcode := "4001234"
	p := store.products["p1"]
	p.Barcode = &barcode
	store.products["p1"] = p

	engine, _ := newTestEngine(t, store, newMockMonitor(true))

	_, err := engine.CreateProduct(context.Background(), "Milk 2L", &barcode, decimal.RequireFromString("3.90"), "MLK-2")
	if err == nil {
		t.Fatal("expected barcode conflict")
	}
	if code := apiCode(t, err); code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %s", code)
	}
}

func TestStreamEvent_AppliedToCache(t *testing.T) {
	store := seedStore()
	events := make(chan model.ChangeEvent, 1)

	pub := &mockPublisher{}
	engine := NewEngine(EngineOptions{
		Store:     store,
		Publisher: pub,
		Monitor:   newMockMonitor(true),
		Events:    events,
		QueueSize: 16,
	})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(engine.Close)

	row := []byte(`{"id":"b1","product_id":"p1","batch_code":"B1","quantity":2,"expiry_date":"2026-09-03T00:00:00Z"}`)
	events <- model.ChangeEvent{Table: model.TableBatches, Op: model.OpUpdate, Row: row}

	waitFor(t, "stream event to reach the cache", func() bool {
		return engine.Snapshot().TotalStock("p1") == 2
	})
}
