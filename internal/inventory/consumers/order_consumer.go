package consumers

import (
	"context"

	"github.com/google/uuid"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/messaging"
)

// OrderEventsQueue is the queue the inventory service reads order events from
const OrderEventsQueue = "inventory-service.order-events"

// OrderFulfiller takes stock for a confirmed order
type OrderFulfiller interface {
	FulfillOrder(ctx context.Context, orderID string) (*service.FulfillmentResult, error)
}

// OrderEventConsumer consumes order events
type OrderEventConsumer struct {
	consumer  *messaging.Consumer
	fulfiller OrderFulfiller
	logger    *logger.Logger
}

// NewOrderEventConsumer creates a new order event consumer
func NewOrderEventConsumer(rmq *messaging.RabbitMQ, fulfiller OrderFulfiller, log *logger.Logger) (*OrderEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, OrderEventsQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeOrderEvents, "order.#"); err != nil {
		return nil, err
	}

	return newOrderEventConsumer(consumer, fulfiller, log), nil
}

func newOrderEventConsumer(consumer *messaging.Consumer, fulfiller OrderFulfiller, log *logger.Logger) *OrderEventConsumer {
	c := &OrderEventConsumer{
		consumer:  consumer,
		fulfiller: fulfiller,
		logger:    log.WithComponent("order-consumer"),
	}

	consumer.RegisterHandler(messaging.EventOrderStatusChanged, c.handleOrderStatusChanged)

	return c
}

// Start starts consuming messages
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *OrderEventConsumer) handleOrderStatusChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderStatusChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		// Redelivery cannot fix a bad payload.
		c.logger.Error().Err(err).Str("event_id", event.ID).Msg("malformed order status event")
		return nil
	}

	if data.FromStatus != repository.OrderStatusPending || data.ToStatus != repository.OrderStatusConfirmed {
		return nil
	}

	if _, err := uuid.Parse(data.OrderID); err != nil {
		c.logger.Error().Str("order_id", data.OrderID).Str("event_id", event.ID).Msg("order status event with malformed order id")
		return nil
	}

	c.logger.Info().
		Str("order_id", data.OrderID).
		Str("correlation_id", event.CorrelationID).
		Msg("received order confirmation")

	_, err := c.fulfiller.FulfillOrder(ctx, data.OrderID)
	if err == nil {
		return nil
	}

	// Only storage failures are worth another delivery; the rest are final.
	if errors.Is(err, errors.ErrUpstream) {
		return err
	}
	c.logger.Warn().Err(err).Str("order_id", data.OrderID).Msg("order could not be fulfilled")
	return nil
}
