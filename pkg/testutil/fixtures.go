package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProductFixture represents test product data
type ProductFixture struct {
	ID           string
	Name         string
	CurrentStock int
	DeletedAt    *time.Time
}

// OrderLineFixture is one line of an OrderFixture
type OrderLineFixture struct {
	ProductID string
	Quantity  int
}

// OrderFixture represents test order data
type OrderFixture struct {
	ID     string
	Status string
	Lines  []OrderLineFixture
}

// FixtureFactory creates test fixtures with sensible defaults. With a
// database it can also insert them.
type FixtureFactory struct {
	db       *sqlx.DB
	sequence int
}

// NewFixtureFactory creates a new fixture factory. db may be nil for unit tests.
func NewFixtureFactory(db *sqlx.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// Product returns a product fixture with a unique name
func (f *FixtureFactory) Product() ProductFixture {
	return ProductFixture{
		ID:   uuid.New().String(),
		Name: fmt.Sprintf("Test Product %d", f.next()),
	}
}

// Order returns a pending order fixture with the given lines
func (f *FixtureFactory) Order(lines ...OrderLineFixture) OrderFixture {
	return OrderFixture{
		ID:     uuid.New().String(),
		Status: "pending",
		Lines:  lines,
	}
}

// InsertProduct inserts p and returns it
func (f *FixtureFactory) InsertProduct(t *testing.T, p ProductFixture) ProductFixture {
	t.Helper()
	_, err := f.db.ExecContext(context.Background(),
		`INSERT INTO products (id, name, current_stock, deleted_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.CurrentStock, p.DeletedAt)
	if err != nil {
		t.Fatalf("failed to insert product fixture: %v", err)
	}
	return p
}

// InsertOrder inserts o with its lines and returns it
func (f *FixtureFactory) InsertOrder(t *testing.T, o OrderFixture) OrderFixture {
	t.Helper()
	ctx := context.Background()
	if _, err := f.db.ExecContext(ctx, `INSERT INTO orders (id, status) VALUES ($1, $2)`, o.ID, o.Status); err != nil {
		t.Fatalf("failed to insert order fixture: %v", err)
	}
	for _, line := range o.Lines {
		_, err := f.db.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity) VALUES ($1, $2, $3)`,
			o.ID, line.ProductID, line.Quantity)
		if err != nil {
			t.Fatalf("failed to insert order line fixture: %v", err)
		}
	}
	return o
}

// CurrentStock reads a product's current_stock directly
func (f *FixtureFactory) CurrentStock(t *testing.T, productID string) int {
	t.Helper()
	var stock int
	if err := f.db.Get(&stock, `SELECT current_stock FROM products WHERE id = $1`, productID); err != nil {
		t.Fatalf("failed to read current stock: %v", err)
	}
	return stock
}
