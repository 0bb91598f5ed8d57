package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/events"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/cache"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/testutil"
)

// memStore is an in-memory stand-in for the repositories. WithTx snapshots
// the whole store and restores it when fn fails, which is enough to observe
// all-or-nothing behavior in unit tests. Transactions are serialized.
type memStore struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	batches   map[string]repository.Batch
	stock     map[string]int
	deleted   map[string]bool
	orders    map[string]repository.Order
	items     map[string][]repository.OrderItem
	counters  map[string]int64
	fulfilled map[string]decimal.Decimal

	// failures injects an error on the named method
	failures map[string]error
	now      time.Time

	// lockedProducts records ListAvailableByProductForUpdate calls in order.
	// beforeLock runs first and stands in for a writer that committed while
	// the caller waited on the row locks.
	lockedProducts []string
	beforeLock     func(productID string)
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		batches:   map[string]repository.Batch{},
		stock:     map[string]int{},
		deleted:   map[string]bool{},
		orders:    map[string]repository.Order{},
		items:     map[string][]repository.OrderItem{},
		counters:  map[string]int64{},
		fulfilled: map[string]decimal.Decimal{},
		failures:  map[string]error{},
		now:       now,
	}
}

func (m *memStore) fail(method string) error {
	return m.failures[method]
}

func (m *memStore) addProduct(id string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[id] = stock
}

func (m *memStore) addBatch(b repository.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.ReceivedDate.IsZero() {
		b.ReceivedDate = m.now
	}
	m.batches[b.BatchNumber] = b
}

func (m *memStore) addOrder(id, status string, lines ...repository.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id] = repository.Order{ID: id, Status: status}
	for i := range lines {
		lines[i].OrderID = id
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
	}
	m.items[id] = lines
}

func (m *memStore) batch(number string) repository.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[number]
}

// drain empties a batch outside any transaction
func (m *memStore) drain(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.batches[number]
	b.RemainingQuantity = 0
	m.batches[number] = b
}

func (m *memStore) productStock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[id]
}

// TxRunner

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.fail("WithTx"); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snapshot := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memSnapshot struct {
	batches   map[string]repository.Batch
	stock     map[string]int
	fulfilled map[string]decimal.Decimal
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		batches:   make(map[string]repository.Batch, len(m.batches)),
		stock:     make(map[string]int, len(m.stock)),
		fulfilled: make(map[string]decimal.Decimal, len(m.fulfilled)),
	}
	for k, v := range m.batches {
		s.batches[k] = v
	}
	for k, v := range m.stock {
		s.stock[k] = v
	}
	for k, v := range m.fulfilled {
		s.fulfilled[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = s.batches
	m.stock = s.stock
	m.fulfilled = s.fulfilled
}

// BatchStore

func (m *memStore) Create(ctx context.Context, b *repository.Batch) error {
	if err := m.fail("Create"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.BatchNumber]; ok {
		return errors.Duplicate("batch number already exists")
	}
	if _, ok := m.stock[b.ProductID]; !ok || m.deleted[b.ProductID] {
		return errors.NotFound("product")
	}
	b.ID = uuid.NewString()
	if b.ReceivedDate.IsZero() {
		b.ReceivedDate = m.now
	}
	b.CreatedAt = m.now
	b.UpdatedAt = m.now
	m.batches[b.BatchNumber] = *b
	return nil
}

func (m *memStore) GetByNumber(ctx context.Context, number string) (*repository.Batch, error) {
	if err := m.fail("GetByNumber"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[number]
	if !ok {
		return nil, errors.NotFound("batch")
	}
	return &b, nil
}

func (m *memStore) GetByNumberForUpdate(ctx context.Context, number string) (*repository.Batch, error) {
	return m.GetByNumber(ctx, number)
}

func (m *memStore) sorted(keep func(repository.Batch) bool) []repository.Batch {
	out := []repository.Batch{}
	for _, b := range m.batches {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		if !out[i].ReceivedDate.Equal(out[j].ReceivedDate) {
			return out[i].ReceivedDate.Before(out[j].ReceivedDate)
		}
		return out[i].BatchNumber < out[j].BatchNumber
	})
	return out
}

func (m *memStore) ListByProduct(ctx context.Context, productID string) ([]repository.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(b repository.Batch) bool { return b.ProductID == productID }), nil
}

func (m *memStore) ListAvailableByProduct(ctx context.Context, productID string) ([]repository.Batch, error) {
	if err := m.fail("ListAvailableByProduct"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(b repository.Batch) bool {
		return b.ProductID == productID && b.RemainingQuantity > 0
	}), nil
}

func (m *memStore) ListAvailableByProductForUpdate(ctx context.Context, productID string) ([]repository.Batch, error) {
	if m.beforeLock != nil {
		m.beforeLock(productID)
	}
	m.mu.Lock()
	m.lockedProducts = append(m.lockedProducts, productID)
	m.mu.Unlock()
	return m.ListAvailableByProduct(ctx, productID)
}

func (m *memStore) ListAll(ctx context.Context) ([]repository.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(repository.Batch) bool { return true }), nil
}

func (m *memStore) List(ctx context.Context, f repository.BatchFilter) ([]repository.Batch, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(b repository.Batch) bool {
		if f.BatchNumber != "" && !strings.Contains(strings.ToLower(b.BatchNumber), strings.ToLower(f.BatchNumber)) {
			return false
		}
		if f.ProductID != "" && b.ProductID != f.ProductID {
			return false
		}
		return f.Importer == "" || b.Importer == f.Importer
	})
	start := min((f.Page-1)*f.Limit, len(all))
	end := min(start+f.Limit, len(all))
	return all[start:end], int64(len(all)), nil
}

func (m *memStore) ApplyQuantityDelta(ctx context.Context, number string, delta int, expiry *time.Time) (*repository.Batch, error) {
	if err := m.fail("ApplyQuantityDelta"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[number]
	if !ok {
		return nil, errors.NotFound("batch")
	}
	if b.RemainingQuantity+delta < 0 || b.Quantity+delta < 0 {
		return nil, errors.ValidationField("remainingQuantity", "must be greater than or equal to 0")
	}
	b.Quantity += delta
	b.RemainingQuantity += delta
	if expiry != nil {
		b.ExpiryDate = *expiry
	}
	m.batches[number] = b
	return &b, nil
}

func (m *memStore) Deduct(ctx context.Context, number string, quantity int) (*repository.Batch, error) {
	if err := m.fail("Deduct"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[number]
	if !ok || b.RemainingQuantity < quantity {
		return nil, repository.ErrNotDeducted
	}
	b.RemainingQuantity -= quantity
	m.batches[number] = b
	return &b, nil
}

func (m *memStore) DeleteUntouched(ctx context.Context, number string) (*repository.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[number]
	if !ok || b.RemainingQuantity != b.Quantity {
		return nil, repository.ErrNotDeleted
	}
	delete(m.batches, number)
	return &b, nil
}

func (m *memStore) SumUnexpiredRemaining(ctx context.Context, productID string, asOf time.Time) (int, error) {
	if err := m.fail("SumUnexpiredRemaining:" + productID); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, b := range m.batches {
		if b.ProductID == productID && b.RemainingQuantity > 0 && b.ExpiryDate.After(asOf) {
			total += b.RemainingQuantity
		}
	}
	return total, nil
}

// ProductStore

func (m *memStore) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	if err := m.fail("AdjustStock"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[id]; !ok || m.deleted[id] {
		return 0, errors.NotFound("product")
	}
	m.stock[id] += delta
	return m.stock[id], nil
}

func (m *memStore) SetStock(ctx context.Context, id string, stock int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous, ok := m.stock[id]
	if !ok || m.deleted[id] {
		return 0, errors.NotFound("product")
	}
	m.stock[id] = stock
	return previous, nil
}

func (m *memStore) CurrentStock(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stock[id]
	if !ok || m.deleted[id] {
		return 0, errors.NotFound("product")
	}
	return stock, nil
}

func (m *memStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	if err := m.fail("ListActiveIDs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id := range m.stock {
		if !m.deleted[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// OrderStore

func (m *memStore) Get(ctx context.Context, id string) (*repository.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.NotFound("order")
	}
	return &o, nil
}

func (m *memStore) ListItems(ctx context.Context, orderID string) ([]repository.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.OrderItem{}, m.items[orderID]...), nil
}

func (m *memStore) SumPendingQuantity(ctx context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for id, o := range m.orders {
		if o.Status != repository.OrderStatusPending {
			continue
		}
		for _, item := range m.items[id] {
			if item.ProductID == productID {
				total += item.Quantity
			}
		}
	}
	return total, nil
}

// CounterStore

func (m *memStore) Next(ctx context.Context, prefix string) (int64, error) {
	if err := m.fail("Next"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[prefix]++
	return m.counters[prefix], nil
}

// FulfillmentStore

func (m *memStore) Record(ctx context.Context, orderID string, totalCost decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fulfilled[orderID]; ok {
		return false, nil
	}
	m.fulfilled[orderID] = totalCost
	return true, nil
}

// memCache implements KeyValueCache and Locker
type memCache struct {
	mu     sync.Mutex
	values map[string]string
	getErr error

	// beforeGuardedSet runs at the start of SetIfUnchanged, after the
	// caller has read the database.
	beforeGuardedSet func()
}

func newMemCache() *memCache {
	return &memCache{values: map[string]string{}}
}

func (c *memCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value.(string)
	return nil
}

func (c *memCache) SetIfUnchanged(ctx context.Context, key, value string, ttl time.Duration, guardKey, guardValue string) (bool, error) {
	if c.beforeGuardedSet != nil {
		c.beforeGuardedSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values[guardKey] != guardValue {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *memCache) Incr(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		n, _ := strconv.Atoi(c.values[k])
		c.values[k] = strconv.Itoa(n + 1)
	}
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

func (c *memCache) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *memCache) ReleaseLock(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values[key] == value {
		delete(c.values, key)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

// fixture bundles the services over one memStore
type fixture struct {
	store          *memStore
	cache          *memCache
	publisher      *testutil.MockPublisher
	stock          *StockProjection
	batches        *BatchService
	allocation     *AllocationService
	fulfillment    *FulfillmentService
	reconciliation *ReconciliationService
	now            time.Time
}

func newFixture() *fixture {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	kv := newMemCache()
	pub := testutil.NewMockPublisher()
	log := logger.Nop()
	evts := events.NewInventoryEventPublisher(pub, log)

	stock := NewStockProjection(store, kv, time.Minute, log)
	batches := NewBatchService(store, store, store, NewSequenceGenerator(store), stock, evts, log)
	batches.now = func() time.Time { return now }
	reconciliation := NewReconciliationService(store, store, store, store, kv, time.Minute, stock, evts, log)
	reconciliation.now = func() time.Time { return now }

	return &fixture{
		store:          store,
		cache:          kv,
		publisher:      pub,
		stock:          stock,
		batches:        batches,
		allocation:     NewAllocationService(store, store),
		fulfillment:    NewFulfillmentService(store, store, store, store, batches, log),
		reconciliation: reconciliation,
		now:            now,
	}
}

func (f *fixture) days(n int) time.Time {
	return f.now.AddDate(0, 0, n)
}
