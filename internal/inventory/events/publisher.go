package events

import (
	"context"
	"time"

	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/messaging"
)

// Source is the event source name of this service
const Source = "inventory-service"

// InventoryEventPublisher publishes inventory events. A nil publisher is a
// valid no-op, and publish failures are logged rather than returned: the
// database write has already committed.
type InventoryEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher wraps any EventPublisher
func NewInventoryEventPublisher(publisher messaging.EventPublisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("inventory-events"),
	}
}

// NewRabbitMQPublisher declares the inventory exchange and returns a publisher on it
func NewRabbitMQPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, Source, log)
	if err != nil {
		return nil, err
	}
	return NewInventoryEventPublisher(publisher, log), nil
}

// PublishBatchCreated publishes a batch created event
func (p *InventoryEventPublisher) PublishBatchCreated(ctx context.Context, b *repository.Batch) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchCreated, b.BatchNumber, messaging.BatchCreatedEvent{
		BatchNumber: b.BatchNumber,
		ProductID:   b.ProductID,
		Importer:    b.Importer,
		Quantity:    b.Quantity,
		CostPrice:   b.CostPrice,
		ExpiryDate:  b.ExpiryDate,
	})
}

// PublishBatchUpdated publishes a batch updated event
func (p *InventoryEventPublisher) PublishBatchUpdated(ctx context.Context, b *repository.Batch, delta int) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchUpdated, b.BatchNumber, messaging.BatchUpdatedEvent{
		BatchNumber:       b.BatchNumber,
		ProductID:         b.ProductID,
		QuantityDelta:     delta,
		Quantity:          b.Quantity,
		RemainingQuantity: b.RemainingQuantity,
		ExpiryDate:        b.ExpiryDate,
	})
}

// PublishBatchDeducted publishes a batch deducted event. orderID may be empty.
func (p *InventoryEventPublisher) PublishBatchDeducted(ctx context.Context, b *repository.Batch, quantity int, orderID string) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchDeducted, b.BatchNumber, messaging.BatchDeductedEvent{
		BatchNumber:       b.BatchNumber,
		ProductID:         b.ProductID,
		Quantity:          quantity,
		RemainingQuantity: b.RemainingQuantity,
		OrderID:           orderID,
	})
}

// PublishBatchDeleted publishes a batch deleted event
func (p *InventoryEventPublisher) PublishBatchDeleted(ctx context.Context, b *repository.Batch) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchDeleted, b.BatchNumber, messaging.BatchDeletedEvent{
		BatchNumber: b.BatchNumber,
		ProductID:   b.ProductID,
		Quantity:    b.Quantity,
	})
}

// PublishStockReconciled publishes a stock reconciled event
func (p *InventoryEventPublisher) PublishStockReconciled(ctx context.Context, productID string, previous, current, remaining, pending int, at time.Time) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventStockReconciled, productID, messaging.StockReconciledEvent{
		ProductID:      productID,
		PreviousStock:  previous,
		CurrentStock:   current,
		TotalRemaining: remaining,
		TotalPending:   pending,
		ReconciledAt:   at,
	})
}

func (p *InventoryEventPublisher) publish(ctx context.Context, eventType, subject string, data interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("subject", subject).
			Msg("failed to publish event")
	}
}
