package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/events"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/messaging"
	"github.com/storefront/storefront-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() *repository.Batch {
	return &repository.Batch{
		BatchNumber:       "BN-000001",
		ProductID:         "p1",
		Importer:          "admin-1",
		Quantity:          10,
		RemainingQuantity: 6,
		CostPrice:         decimal.RequireFromString("2.50"),
		ExpiryDate:        time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestInventoryEventPublisher_Payloads(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := events.NewInventoryEventPublisher(mock, logger.Nop())
	ctx := context.Background()
	b := testBatch()

	p.PublishBatchCreated(ctx, b)
	p.PublishBatchUpdated(ctx, b, 5)
	p.PublishBatchDeducted(ctx, b, 4, "o-1")
	p.PublishBatchDeleted(ctx, b)
	p.PublishStockReconciled(ctx, "p1", 65, 70, 80, 10, time.Now())

	published := mock.Events()
	require.Len(t, published, 5)
	assert.Equal(t, []string{
		messaging.EventBatchCreated,
		messaging.EventBatchUpdated,
		messaging.EventBatchDeducted,
		messaging.EventBatchDeleted,
		messaging.EventStockReconciled,
	}, []string{published[0].Type, published[1].Type, published[2].Type, published[3].Type, published[4].Type})

	deducted, ok := published[2].Payload.(messaging.BatchDeductedEvent)
	require.True(t, ok)
	assert.Equal(t, 4, deducted.Quantity)
	assert.Equal(t, 6, deducted.RemainingQuantity)
	assert.Equal(t, "o-1", deducted.OrderID)

	updated := published[1].Payload.(messaging.BatchUpdatedEvent)
	assert.Equal(t, 5, updated.QuantityDelta)

	reconciled := published[4].Payload.(messaging.StockReconciledEvent)
	assert.Equal(t, 65, reconciled.PreviousStock)
	assert.Equal(t, 70, reconciled.CurrentStock)
}

func TestInventoryEventPublisher_SwallowsFailures(t *testing.T) {
	mock := testutil.NewMockPublisher()
	mock.Err = assert.AnError
	p := events.NewInventoryEventPublisher(mock, logger.Nop())

	assert.NotPanics(t, func() { p.PublishBatchCreated(context.Background(), testBatch()) })
	mock.AssertEventPublished(t, messaging.EventBatchCreated)
}

func TestInventoryEventPublisher_NilIsNoop(t *testing.T) {
	var p *events.InventoryEventPublisher
	assert.NotPanics(t, func() {
		p.PublishBatchCreated(context.Background(), testBatch())
		p.PublishStockReconciled(context.Background(), "p1", 0, 0, 0, 0, time.Now())
	})

	disconnected := events.NewInventoryEventPublisher(nil, logger.Nop())
	assert.NotPanics(t, func() { disconnected.PublishBatchDeleted(context.Background(), testBatch()) })
}
