package service

import (
	"context"
	stderrors "errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// FulfillmentResult describes the stock taken for an order
type FulfillmentResult struct {
	OrderID          string            `json:"orderId"`
	AlreadyFulfilled bool              `json:"alreadyFulfilled"`
	TotalCost        decimal.Decimal   `json:"totalCost"`
	Items            []OrderAllocation `json:"items"`
}

type deduction struct {
	batch    *repository.Batch
	quantity int
}

// FulfillmentService takes stock out of batches for confirmed orders
type FulfillmentService struct {
	tx           TxRunner
	batches      BatchStore
	orders       OrderStore
	fulfillments FulfillmentStore
	lifecycle    *BatchService
	logger       *logger.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(
	tx TxRunner,
	batches BatchStore,
	orders OrderStore,
	fulfillments FulfillmentStore,
	lifecycle *BatchService,
	log *logger.Logger,
) *FulfillmentService {
	return &FulfillmentService{
		tx:           tx,
		batches:      batches,
		orders:       orders,
		fulfillments: fulfillments,
		lifecycle:    lifecycle,
		logger:       log.WithComponent("fulfillment-service"),
	}
}

// FulfillOrder allocates every line of an order first-expired-first-out and
// deducts the plan in a single transaction. If any line cannot be covered
// nothing is applied. A second call for the same order is a no-op.
func (s *FulfillmentService) FulfillOrder(ctx context.Context, orderID string) (*FulfillmentResult, error) {
	result := &FulfillmentResult{OrderID: orderID, TotalCost: decimal.Zero}
	var applied []deduction

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		applied = nil
		result.Items = nil
		result.TotalCost = decimal.Zero

		if _, err := s.orders.Get(ctx, orderID); err != nil {
			return err
		}
		items, err := s.orders.ListItems(ctx, orderID)
		if err != nil {
			return err
		}

		if err := s.lockProducts(ctx, items); err != nil {
			return err
		}

		for _, item := range items {
			// Listed inside the transaction so earlier lines for the same
			// product are already reflected.
			batches, err := s.batches.ListAvailableByProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			plan := PlanFEFO(item.ProductID, batches, item.Quantity)
			if !plan.Fulfilled {
				return errors.InsufficientStock("product "+item.ProductID, item.Quantity, plan.TotalAllocated)
			}

			for _, line := range plan.Lines {
				batch, err := s.lifecycle.deduct(ctx, line.BatchNumber, line.QuantityTaken)
				if err != nil {
					return err
				}
				applied = append(applied, deduction{batch: batch, quantity: line.QuantityTaken})
			}

			result.Items = append(result.Items, OrderAllocation{
				OrderItemID: item.ID,
				ProductID:   item.ProductID,
				Quantity:    item.Quantity,
				Plan:        plan,
			})
			result.TotalCost = result.TotalCost.Add(plan.TotalCost)
		}

		recorded, err := s.fulfillments.Record(ctx, orderID, result.TotalCost)
		if err != nil {
			return err
		}
		if !recorded {
			return errAlreadyFulfilled
		}
		return nil
	})
	if stderrors.Is(err, errAlreadyFulfilled) {
		s.logger.Info().Str("order_id", orderID).Msg("order already fulfilled, skipping")
		return &FulfillmentResult{OrderID: orderID, AlreadyFulfilled: true, TotalCost: decimal.Zero}, nil
	}
	if err != nil {
		if errors.Is(err, errors.ErrUpstream) {
			s.logger.Error().Err(err).Str("order_id", orderID).Msg("order fulfillment failed")
		}
		return nil, err
	}

	touched := map[string]struct{}{}
	for _, d := range applied {
		touched[d.batch.ProductID] = struct{}{}
		s.lifecycle.publisher.PublishBatchDeducted(ctx, d.batch, d.quantity, orderID)
	}
	for productID := range touched {
		s.lifecycle.stock.Invalidate(ctx, productID)
	}

	s.logger.Info().
		Str("order_id", orderID).
		Int("lines", len(result.Items)).
		Str("total_cost", result.TotalCost.StringFixed(2)).
		Msg("order fulfilled")
	return result, nil
}

// lockProducts row-locks the available batches of every product on the order,
// in product id order so two orders sharing products cannot deadlock. Once
// held, no other writer can drain a batch between planning and deduction.
func (s *FulfillmentService) lockProducts(ctx context.Context, items []repository.OrderItem) error {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := s.batches.ListAvailableByProductForUpdate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// errAlreadyFulfilled rolls the transaction back when the order was recorded
// by an earlier delivery.
var errAlreadyFulfilled = stderrors.New("order already fulfilled")
