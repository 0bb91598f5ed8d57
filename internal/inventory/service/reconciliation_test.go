package service

import (
	"context"
	"testing"

	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationService_UpdateProductStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Incremental value has drifted
	f.store.addProduct(productP1, 999)
	f.store.addBatch(repository.Batch{BatchNumber: "A", ProductID: productP1, Quantity: 50, RemainingQuantity: 50, ExpiryDate: f.days(10)})
	f.store.addBatch(repository.Batch{BatchNumber: "B", ProductID: productP1, Quantity: 30, RemainingQuantity: 20, ExpiryDate: f.days(20)})
	f.store.addBatch(repository.Batch{BatchNumber: "EXPIRED", ProductID: productP1, Quantity: 40, RemainingQuantity: 40, ExpiryDate: f.days(-1)})
	f.store.addOrder("pending-1", repository.OrderStatusPending, repository.OrderItem{ProductID: productP1, Quantity: 10})
	f.store.addOrder("confirmed-1", repository.OrderStatusConfirmed, repository.OrderItem{ProductID: productP1, Quantity: 7})

	result, err := f.reconciliation.UpdateProductStock(ctx, productP1)
	require.NoError(t, err)
	assert.Equal(t, 70, result.TotalRemaining)
	assert.Equal(t, 10, result.TotalPending)
	assert.Equal(t, 60, result.CurrentStock)
	assert.Equal(t, 999, result.PreviousStock)
	assert.Equal(t, 60, f.store.productStock(productP1))
	f.publisher.AssertEventPublished(t, messaging.EventStockReconciled)

	// Idempotent
	f.publisher.Reset()
	again, err := f.reconciliation.UpdateProductStock(ctx, productP1)
	require.NoError(t, err)
	assert.Equal(t, 60, again.CurrentStock)
	assert.Equal(t, 60, again.PreviousStock)
	f.publisher.AssertNoEventsPublished(t)
}

func TestReconciliationService_UpdateProductStock_FloorsAtZero(t *testing.T) {
	f := newFixture()
	f.store.addProduct(productP1, 3)
	f.store.addBatch(repository.Batch{BatchNumber: "A", ProductID: productP1, Quantity: 5, RemainingQuantity: 5, ExpiryDate: f.days(10)})
	f.store.addOrder("pending-1", repository.OrderStatusPending, repository.OrderItem{ProductID: productP1, Quantity: 8})

	result, err := f.reconciliation.UpdateProductStock(context.Background(), productP1)
	require.NoError(t, err)
	assert.Zero(t, result.CurrentStock)
	assert.Zero(t, f.store.productStock(productP1))
}

func TestReconciliationService_UpdateAllProductsStock(t *testing.T) {
	f := newFixture()
	const (
		productP2 = "22222222-2222-2222-2222-222222222222"
		productP3 = "33333333-3333-3333-3333-333333333333"
	)
	f.store.addProduct(productP1, 0)
	f.store.addProduct(productP2, 4)
	f.store.addProduct(productP3, 5)
	f.store.deleted[productP3] = true
	f.store.addBatch(repository.Batch{BatchNumber: "A", ProductID: productP1, Quantity: 5, RemainingQuantity: 5, ExpiryDate: f.days(10)})
	f.store.failures["SumUnexpiredRemaining:"+productP2] = errors.Upstream("failed to sum remaining stock", assert.AnError)

	summary, err := f.reconciliation.UpdateAllProductsStock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Products)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 5, f.store.productStock(productP1))
	assert.Equal(t, 4, f.store.productStock(productP2))
}

func TestReconciliationService_RunExclusive(t *testing.T) {
	f := newFixture()
	f.store.addProduct(productP1, 1)
	ctx := context.Background()

	held, err := f.cache.AcquireLock(ctx, ReconcileLockKey, "other-replica", 0)
	require.NoError(t, err)
	require.True(t, held)

	_, err = f.reconciliation.RunExclusive(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 1, f.store.productStock(productP1))

	require.NoError(t, f.cache.ReleaseLock(ctx, ReconcileLockKey, "other-replica"))

	summary, err := f.reconciliation.RunExclusive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Zero(t, f.store.productStock(productP1))
	assert.False(t, f.cache.has(ReconcileLockKey), "lock is released after the run")
}
