package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
)

// The stores below are satisfied by the repository package. Services depend
// on these narrow views so tests can substitute in-memory fakes.

// TxRunner runs fn in a transaction carried on the context
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BatchStore persists inventory batches
type BatchStore interface {
	Create(ctx context.Context, batch *repository.Batch) error
	GetByNumber(ctx context.Context, batchNumber string) (*repository.Batch, error)
	GetByNumberForUpdate(ctx context.Context, batchNumber string) (*repository.Batch, error)
	ListByProduct(ctx context.Context, productID string) ([]repository.Batch, error)
	ListAvailableByProduct(ctx context.Context, productID string) ([]repository.Batch, error)
	ListAvailableByProductForUpdate(ctx context.Context, productID string) ([]repository.Batch, error)
	ListAll(ctx context.Context) ([]repository.Batch, error)
	List(ctx context.Context, filter repository.BatchFilter) ([]repository.Batch, int64, error)
	ApplyQuantityDelta(ctx context.Context, batchNumber string, delta int, expiry *time.Time) (*repository.Batch, error)
	Deduct(ctx context.Context, batchNumber string, quantity int) (*repository.Batch, error)
	DeleteUntouched(ctx context.Context, batchNumber string) (*repository.Batch, error)
	SumUnexpiredRemaining(ctx context.Context, productID string, asOf time.Time) (int, error)
}

// ProductStore reads products and writes the current_stock projection
type ProductStore interface {
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
	SetStock(ctx context.Context, id string, stock int) (int, error)
	CurrentStock(ctx context.Context, id string) (int, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// OrderStore reads orders
type OrderStore interface {
	Get(ctx context.Context, id string) (*repository.Order, error)
	ListItems(ctx context.Context, orderID string) ([]repository.OrderItem, error)
	SumPendingQuantity(ctx context.Context, productID string) (int, error)
}

// CounterStore issues increasing values per prefix
type CounterStore interface {
	Next(ctx context.Context, prefix string) (int64, error)
}

// Locker is a best-effort distributed lock
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

// KeyValueCache is a string cache with TTLs and integer generation counters
type KeyValueCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetIfUnchanged(ctx context.Context, key, value string, ttl time.Duration, guardKey, guardValue string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, keys ...string) error
}

// StockInvalidator drops cached stock values after a write commits
type StockInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...string)
}

// FulfillmentStore records fulfilled orders
type FulfillmentStore interface {
	Record(ctx context.Context, orderID string, totalCost decimal.Decimal) (bool, error)
}
