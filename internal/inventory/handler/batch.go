package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/httputil"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// BatchLifecycle is the batch service as seen by the HTTP layer
type BatchLifecycle interface {
	CreateBatch(ctx context.Context, in service.CreateBatchInput) (*repository.Batch, error)
	UpdateBatch(ctx context.Context, batchNumber string, in service.UpdateBatchInput) (*repository.Batch, error)
	DeleteBatch(ctx context.Context, batchNumber string) (*repository.Batch, error)
	GetBatchByNumber(ctx context.Context, batchNumber string) (*repository.Batch, error)
	GetBatchesByProductID(ctx context.Context, productID string) ([]repository.Batch, error)
	ListBatches(ctx context.Context, filter repository.BatchFilter) ([]repository.Batch, int64, repository.BatchFilter, error)
}

// BatchHandler handles inventory batch endpoints
type BatchHandler struct {
	service BatchLifecycle
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(svc BatchLifecycle, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		service: svc,
		logger:  log,
	}
}

// CreateBatchRequest is the body of POST /inventory-batches
type CreateBatchRequest struct {
	ProductID    string           `json:"productId" validate:"required,uuid"`
	Quantity     *int             `json:"quantity" validate:"required,gt=0"`
	CostPrice    *decimal.Decimal `json:"costPrice" validate:"required"`
	ExpiryDate   string           `json:"expiryDate" validate:"required"`
	BatchNumber  string           `json:"batchNumber" validate:"omitempty,max=64"`
	ReceivedDate string           `json:"receivedDate"`
}

// UpdateBatchRequest is the body of PUT /inventory-batches/{batchNumber}
type UpdateBatchRequest struct {
	NewQuantity *int   `json:"newQuantity" validate:"omitempty,gte=0"`
	ExpiryDate  string `json:"expiryDate"`
}

// Create receives a new batch. The importer is the authenticated admin.
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	expiry, err := parseDate("expiryDate", req.ExpiryDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	in := service.CreateBatchInput{
		ProductID:   req.ProductID,
		Importer:    httputil.GetAdminID(r.Context()),
		Quantity:    *req.Quantity,
		CostPrice:   *req.CostPrice,
		ExpiryDate:  expiry,
		BatchNumber: req.BatchNumber,
	}
	if req.ReceivedDate != "" {
		received, err := parseDate("receivedDate", req.ReceivedDate)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		in.ReceivedDate = &received
	}

	batch, err := h.service.CreateBatch(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, "Inventory batch created successfully", batch)
}

// List lists batches with filters, sorting and pagination
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.BatchFilter{
		BatchNumber: q.Get("batchNumber"),
		ProductID:   q.Get("productId"),
		Importer:    q.Get("importer"),
		SortBy:      q.Get("sortBy"),
		SortOrder:   q.Get("sortOrder"),
	}

	if filter.ProductID != "" {
		if _, err := uuid.Parse(filter.ProductID); err != nil {
			httputil.Error(w, errors.ValidationField("productId", "must be a valid UUID"))
			return
		}
	}

	if sortBy := filter.SortBy; sortBy != "" {
		if _, ok := repository.BatchSortFields[sortBy]; !ok {
			httputil.Error(w, errors.ValidationField("sortBy", "unsupported sort field"))
			return
		}
	}

	var err error
	if filter.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		httputil.Error(w, err)
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		httputil.Error(w, err)
		return
	}

	batches, total, applied, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, "Inventory batches retrieved successfully", batches,
		httputil.NewMeta(applied.Page, applied.Limit, total))
}

// Get gets a batch by batch number
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	batchNumber := chi.URLParam(r, "batchNumber")

	batch, err := h.service.GetBatchByNumber(r.Context(), batchNumber)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "Inventory batch retrieved successfully", batch)
}

// ListByProduct lists a product's batches, nearest expiry first
func (h *BatchHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productId", "product")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batches, err := h.service.GetBatchesByProductID(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "Inventory batches retrieved successfully", batches)
}

// Update changes a batch's quantity or expiry date
func (h *BatchHandler) Update(w http.ResponseWriter, r *http.Request) {
	batchNumber := chi.URLParam(r, "batchNumber")

	var req UpdateBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	in := service.UpdateBatchInput{NewQuantity: req.NewQuantity}
	if req.ExpiryDate != "" {
		expiry, err := parseDate("expiryDate", req.ExpiryDate)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		in.ExpiryDate = &expiry
	}

	batch, err := h.service.UpdateBatch(r.Context(), batchNumber, in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "Inventory batch updated successfully", batch)
}

// Delete deletes a batch nothing has been taken from
func (h *BatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	batchNumber := chi.URLParam(r, "batchNumber")

	batch, err := h.service.DeleteBatch(r.Context(), batchNumber)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, "Inventory batch deleted successfully", batch)
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, errors.ValidationField(field, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
}

// pathID reads a uuid path parameter. A value that is not a uuid names
// nothing, so it is reported as a missing resource.
func pathID(r *http.Request, param, resource string) (string, error) {
	id := chi.URLParam(r, param)
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.NotFound(resource)
	}
	return id, nil
}

func queryInt(value, field string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ValidationField(field, "must be an integer")
	}
	return n, nil
}
