package handler

import (
	"context"
	"net/http"

	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/httputil"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// StockReconciler runs a full stock reconciliation
type StockReconciler interface {
	RunExclusive(ctx context.Context) (*service.ReconcileSummary, error)
}

// StockReader reads a product's current stock
type StockReader interface {
	GetCurrentStock(ctx context.Context, productID string) (*service.ProductStock, error)
}

// StockHandler handles product stock endpoints
type StockHandler struct {
	reconciler StockReconciler
	reader     StockReader
	logger     *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(reconciler StockReconciler, reader StockReader, log *logger.Logger) *StockHandler {
	return &StockHandler{
		reconciler: reconciler,
		reader:     reader,
		logger:     log,
	}
}

// UpdateAll recomputes the stock of every product. The run outlives the
// request, so a client disconnect does not leave it half done.
func (h *StockHandler) UpdateAll(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().
		Str("admin_id", httputil.GetAdminID(r.Context())).
		Msg("stock reconciliation requested")

	summary, err := h.reconciler.RunExclusive(context.WithoutCancel(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "All product stocks updated successfully", summary)
}

// Get returns a product's current stock
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productId", "product")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	stock, err := h.reader.GetCurrentStock(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "Product stock retrieved successfully", stock)
}
