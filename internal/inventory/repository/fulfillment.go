package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/pkg/database"
)

// FulfillmentRepository records which orders have had stock taken for them
type FulfillmentRepository struct {
	db *database.DB
}

// NewFulfillmentRepository creates a new fulfillment repository
func NewFulfillmentRepository(db *database.DB) *FulfillmentRepository {
	return &FulfillmentRepository{db: db}
}

// Record marks an order as fulfilled. It reports false when the order was
// already recorded, which lets a redelivered event be skipped.
func (r *FulfillmentRepository) Record(ctx context.Context, orderID string, totalCost decimal.Decimal) (bool, error) {
	query := `
		INSERT INTO order_fulfillments (order_id, total_cost) VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`
	result, err := r.db.Q(ctx).ExecContext(ctx, query, orderID, totalCost)
	if err != nil {
		return false, database.Classify(err, "order", "record fulfillment")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, database.Classify(err, "order", "record fulfillment")
	}
	return rows == 1, nil
}
