package repository

import (
	"context"

	"github.com/storefront/storefront-backend/pkg/database"
)

// CounterRepository issues strictly increasing values per prefix
type CounterRepository struct {
	db *database.DB
}

// NewCounterRepository creates a new counter repository
func NewCounterRepository(db *database.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Next increments the counter for prefix and returns the new value. The first
// call for a prefix returns 1. The upsert takes a row lock, so concurrent
// callers always see distinct values.
func (r *CounterRepository) Next(ctx context.Context, prefix string) (int64, error) {
	query := `
		INSERT INTO counters (prefix, value) VALUES ($1, 1)
		ON CONFLICT (prefix) DO UPDATE SET value = counters.value + 1, updated_at = NOW()
		RETURNING value
	`

	var value int64
	if err := r.db.Q(ctx).GetContext(ctx, &value, query, prefix); err != nil {
		return 0, database.Classify(err, "counter", "increment counter")
	}
	return value, nil
}
