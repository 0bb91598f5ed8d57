package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/errors"
)

// AllocationLine is one batch's share of an allocation plan
type AllocationLine struct {
	BatchNumber       string          `json:"batchNumber"`
	QuantityTaken     int             `json:"quantityTaken"`
	CostPrice         decimal.Decimal `json:"costPrice"`
	LineCost          decimal.Decimal `json:"lineCost"`
	RemainingQuantity int             `json:"remainingQuantity"`
	ExpiryDate        time.Time       `json:"expiryDate"`
}

// AllocationPlan is a first-expired-first-out allocation for one product
type AllocationPlan struct {
	ProductID      string           `json:"productId"`
	QuantityNeeded int              `json:"quantityNeeded"`
	TotalAllocated int              `json:"totalAllocated"`
	TotalCost      decimal.Decimal  `json:"totalCost"`
	Fulfilled      bool             `json:"fulfilled"`
	Shortfall      int              `json:"shortfall"`
	Lines          []AllocationLine `json:"lines"`
}

// PlanFEFO greedily takes from batches in the order given, which must be
// expiry ascending. Batches with nothing remaining are skipped. RemainingQuantity
// on each line is the batch's remaining quantity before the allocation.
func PlanFEFO(productID string, batches []repository.Batch, quantityNeeded int) AllocationPlan {
	plan := AllocationPlan{
		ProductID:      productID,
		QuantityNeeded: quantityNeeded,
		TotalCost:      decimal.Zero,
		Lines:          []AllocationLine{},
	}

	stillNeeded := quantityNeeded
	for _, b := range batches {
		if stillNeeded <= 0 {
			break
		}
		if b.RemainingQuantity <= 0 {
			continue
		}

		take := min(b.RemainingQuantity, stillNeeded)
		lineCost := b.CostPrice.Mul(decimal.NewFromInt(int64(take)))
		plan.Lines = append(plan.Lines, AllocationLine{
			BatchNumber:       b.BatchNumber,
			QuantityTaken:     take,
			CostPrice:         b.CostPrice,
			LineCost:          lineCost,
			RemainingQuantity: b.RemainingQuantity,
			ExpiryDate:        b.ExpiryDate,
		})
		plan.TotalAllocated += take
		plan.TotalCost = plan.TotalCost.Add(lineCost)
		stillNeeded -= take
	}

	if stillNeeded > 0 {
		plan.Shortfall = stillNeeded
	}
	plan.Fulfilled = plan.Shortfall == 0
	return plan
}

// OrderAllocation is the allocation preview for one order line
type OrderAllocation struct {
	OrderItemID string         `json:"orderItemId"`
	ProductID   string         `json:"productId"`
	Quantity    int            `json:"quantity"`
	Plan        AllocationPlan `json:"plan"`
}

// OrderBatchItems is the allocation preview for a whole order
type OrderBatchItems struct {
	OrderID   string            `json:"orderId"`
	Status    string            `json:"status"`
	Fulfilled bool              `json:"fulfilled"`
	TotalCost decimal.Decimal   `json:"totalCost"`
	Items     []OrderAllocation `json:"items"`
}

// AllocationService answers which batches would serve a demand. It never writes.
type AllocationService struct {
	batches BatchStore
	orders  OrderStore
}

// NewAllocationService creates a new allocation service
func NewAllocationService(batches BatchStore, orders OrderStore) *AllocationService {
	return &AllocationService{batches: batches, orders: orders}
}

// GetNearestExpiryBatch plans how quantityNeeded of a product would be taken
// from its batches. A shortfall is reported on the plan rather than returned as an error.
func (s *AllocationService) GetNearestExpiryBatch(ctx context.Context, productID string, quantityNeeded int) (*AllocationPlan, error) {
	if quantityNeeded <= 0 {
		return nil, errors.ValidationField("quantity", "must be greater than 0")
	}

	batches, err := s.batches.ListAvailableByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	plan := PlanFEFO(productID, batches, quantityNeeded)
	return &plan, nil
}

// GetOrderBatchItems plans every line of an existing order independently.
// Lines for the same product each see the full set of batches.
func (s *AllocationService) GetOrderBatchItems(ctx context.Context, orderID string) (*OrderBatchItems, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result := &OrderBatchItems{
		OrderID:   order.ID,
		Status:    order.Status,
		Fulfilled: true,
		TotalCost: decimal.Zero,
		Items:     make([]OrderAllocation, 0, len(items)),
	}
	for _, item := range items {
		plan, err := s.GetNearestExpiryBatch(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, OrderAllocation{
			OrderItemID: item.ID,
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			Plan:        *plan,
		})
		result.TotalCost = result.TotalCost.Add(plan.TotalCost)
		if !plan.Fulfilled {
			result.Fulfilled = false
		}
	}
	return result, nil
}
