package handler

import (
	"context"
	"net/http"

	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/httputil"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// OrderAllocator previews which batches would serve an order
type OrderAllocator interface {
	GetOrderBatchItems(ctx context.Context, orderID string) (*service.OrderBatchItems, error)
}

// SalesHistoryHandler handles sales history endpoints
type SalesHistoryHandler struct {
	allocator OrderAllocator
	logger    *logger.Logger
}

// NewSalesHistoryHandler creates a new sales history handler
func NewSalesHistoryHandler(allocator OrderAllocator, log *logger.Logger) *SalesHistoryHandler {
	return &SalesHistoryHandler{allocator: allocator, logger: log}
}

// BatchItems returns the first-expired-first-out plan for each line of an order
func (h *SalesHistoryHandler) BatchItems(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId", "order")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	items, err := h.allocator.GetOrderBatchItems(r.Context(), orderID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "Batch items retrieved successfully", items)
}
