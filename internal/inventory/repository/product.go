package repository

import (
	"context"
	"time"

	"github.com/storefront/storefront-backend/pkg/database"
)

// Product is the part of the catalog record the inventory service cares about
type Product struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	CurrentStock int        `db:"current_stock" json:"currentStock"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

// ProductRepository reads products and writes the current_stock projection
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Get gets a live product by ID
func (r *ProductRepository) Get(ctx context.Context, id string) (*Product, error) {
	var p Product
	query := `
		SELECT id, name, current_stock, created_at, updated_at, deleted_at
		FROM products WHERE id = $1 AND deleted_at IS NULL
	`
	if err := r.db.Q(ctx).GetContext(ctx, &p, query, id); err != nil {
		return nil, database.Classify(err, "product", "load product")
	}
	return &p, nil
}

// AdjustStock adds delta to current_stock and returns the new value.
// The value is not clamped; negative drift is corrected by reconciliation.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	query := `
		UPDATE products SET current_stock = current_stock + $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING current_stock
	`
	var stock int
	if err := r.db.Q(ctx).GetContext(ctx, &stock, query, id, delta); err != nil {
		return 0, database.Classify(err, "product", "adjust product stock")
	}
	return stock, nil
}

// SetStock overwrites current_stock and returns the value it replaced
func (r *ProductRepository) SetStock(ctx context.Context, id string, stock int) (int, error) {
	query := `
		WITH previous AS (
			SELECT id, current_stock FROM products
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE
		)
		UPDATE products p SET current_stock = $2, updated_at = NOW()
		FROM previous
		WHERE p.id = previous.id
		RETURNING previous.current_stock
	`
	var previous int
	if err := r.db.Q(ctx).GetContext(ctx, &previous, query, id, stock); err != nil {
		return 0, database.Classify(err, "product", "set product stock")
	}
	return previous, nil
}

// CurrentStock reads the projection for one product
func (r *ProductRepository) CurrentStock(ctx context.Context, id string) (int, error) {
	var stock int
	query := `SELECT current_stock FROM products WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.Q(ctx).GetContext(ctx, &stock, query, id); err != nil {
		return 0, database.Classify(err, "product", "load product stock")
	}
	return stock, nil
}

// ListActiveIDs lists the IDs of every product that is not soft-deleted
func (r *ProductRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	query := `SELECT id FROM products WHERE deleted_at IS NULL ORDER BY created_at, id`
	if err := r.db.Q(ctx).SelectContext(ctx, &ids, query); err != nil {
		return nil, database.Classify(err, "product", "list products")
	}
	return ids, nil
}
