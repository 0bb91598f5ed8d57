package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/events"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// CreateBatchInput is what is needed to receive a new batch
type CreateBatchInput struct {
	ProductID    string
	Importer     string
	Quantity     int
	CostPrice    decimal.Decimal
	ExpiryDate   time.Time
	BatchNumber  string
	ReceivedDate *time.Time
}

// UpdateBatchInput carries the optional fields of a batch update
type UpdateBatchInput struct {
	NewQuantity *int
	ExpiryDate  *time.Time
}

// BatchService owns the batch lifecycle and keeps products.current_stock in
// step with every change to a batch's remaining quantity.
type BatchService struct {
	tx        TxRunner
	batches   BatchStore
	products  ProductStore
	sequence  *SequenceGenerator
	stock     StockInvalidator
	publisher *events.InventoryEventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewBatchService creates a new batch service
func NewBatchService(
	tx TxRunner,
	batches BatchStore,
	products ProductStore,
	sequence *SequenceGenerator,
	stock StockInvalidator,
	publisher *events.InventoryEventPublisher,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		tx:        tx,
		batches:   batches,
		products:  products,
		sequence:  sequence,
		stock:     stock,
		publisher: publisher,
		logger:    log.WithComponent("batch-service"),
		now:       time.Now,
	}
}

// CreateBatch receives a new batch and adds its quantity to the product's stock
func (s *BatchService) CreateBatch(ctx context.Context, in CreateBatchInput) (*repository.Batch, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	batchNumber := strings.TrimSpace(in.BatchNumber)
	if batchNumber == "" {
		// Issued outside the transaction so the counter row is not held
		// for the duration of the insert.
		next, err := s.sequence.Next(ctx, BatchNumberPrefix)
		if err != nil {
			return nil, err
		}
		batchNumber = next
	}

	batch := &repository.Batch{
		BatchNumber:       batchNumber,
		ProductID:         in.ProductID,
		Importer:          in.Importer,
		Quantity:          in.Quantity,
		RemainingQuantity: in.Quantity,
		CostPrice:         in.CostPrice,
		ExpiryDate:        in.ExpiryDate,
	}
	if in.ReceivedDate != nil {
		batch.ReceivedDate = *in.ReceivedDate
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.batches.Create(ctx, batch); err != nil {
			return err
		}
		_, err := s.products.AdjustStock(ctx, batch.ProductID, batch.Quantity)
		return err
	})
	if err != nil {
		s.logFailure(err, "create batch", batchNumber, in.ProductID)
		return nil, err
	}

	s.logger.WithBatch(batch.BatchNumber).WithProduct(batch.ProductID).Info().
		Int("quantity", batch.Quantity).
		Msg("batch created")

	s.stock.Invalidate(ctx, batch.ProductID)
	s.publisher.PublishBatchCreated(ctx, batch)
	return batch, nil
}

func (s *BatchService) validateCreate(in CreateBatchInput) error {
	details := map[string]string{}
	if strings.TrimSpace(in.ProductID) == "" {
		details["productId"] = "this field is required"
	}
	if strings.TrimSpace(in.Importer) == "" {
		details["importer"] = "this field is required"
	}
	if in.Quantity <= 0 {
		details["quantity"] = "must be greater than 0"
	}
	if in.CostPrice.IsNegative() {
		details["costPrice"] = "must be greater than or equal to 0"
	}
	if in.ExpiryDate.IsZero() {
		details["expiryDate"] = "this field is required"
	} else if !in.ExpiryDate.After(s.now()) {
		details["expiryDate"] = "must be in the future"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// UpdateBatch changes a batch's quantity and/or expiry date. A quantity change
// is applied as a delta to both quantity and remaining quantity and to the
// product's stock. The delta is not clamped.
func (s *BatchService) UpdateBatch(ctx context.Context, batchNumber string, in UpdateBatchInput) (*repository.Batch, error) {
	if in.NewQuantity != nil && *in.NewQuantity < 0 {
		return nil, errors.ValidationField("newQuantity", "must be greater than or equal to 0")
	}

	var (
		updated *repository.Batch
		delta   int
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.batches.GetByNumberForUpdate(ctx, batchNumber)
		if err != nil {
			return err
		}

		if in.NewQuantity != nil {
			delta = *in.NewQuantity - current.Quantity
		}
		if delta == 0 && in.ExpiryDate == nil {
			updated = current
			return nil
		}

		updated, err = s.batches.ApplyQuantityDelta(ctx, batchNumber, delta, in.ExpiryDate)
		if err != nil {
			return err
		}
		if delta != 0 {
			_, err = s.products.AdjustStock(ctx, current.ProductID, delta)
		}
		return err
	})
	if err != nil {
		s.logFailure(err, "update batch", batchNumber, "")
		return nil, err
	}

	if delta != 0 || in.ExpiryDate != nil {
		s.logger.WithBatch(batchNumber).Info().
			Int("quantity_delta", delta).
			Msg("batch updated")
		if delta != 0 {
			s.stock.Invalidate(ctx, updated.ProductID)
		}
		s.publisher.PublishBatchUpdated(ctx, updated, delta)
	}
	return updated, nil
}

// DeductQuantityFromBatch takes quantity out of a batch and the product's stock.
// The decrement is conditional in the database, so concurrent deductions can
// never drive remaining quantity below zero.
func (s *BatchService) DeductQuantityFromBatch(ctx context.Context, batchNumber string, quantity int) (*repository.Batch, error) {
	return s.deductForOrder(ctx, batchNumber, quantity, "")
}

func (s *BatchService) deductForOrder(ctx context.Context, batchNumber string, quantity int, orderID string) (*repository.Batch, error) {
	var batch *repository.Batch
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		batch, err = s.deduct(ctx, batchNumber, quantity)
		return err
	})
	if err != nil {
		s.logFailure(err, "deduct from batch", batchNumber, "")
		return nil, err
	}

	s.stock.Invalidate(ctx, batch.ProductID)
	s.publisher.PublishBatchDeducted(ctx, batch, quantity, orderID)
	return batch, nil
}

// deduct must run inside a transaction on ctx.
func (s *BatchService) deduct(ctx context.Context, batchNumber string, quantity int) (*repository.Batch, error) {
	if quantity <= 0 {
		return nil, errors.ValidationField("quantity", "must be greater than 0")
	}

	batch, err := s.batches.Deduct(ctx, batchNumber, quantity)
	if stderrors.Is(err, repository.ErrNotDeducted) {
		current, getErr := s.batches.GetByNumber(ctx, batchNumber)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errors.InsufficientStock("batch "+batchNumber, quantity, current.RemainingQuantity)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.products.AdjustStock(ctx, batch.ProductID, -quantity); err != nil {
		return nil, err
	}
	return batch, nil
}

// DeleteBatch removes a batch nothing has been taken from, and its remaining
// quantity from the product's stock.
func (s *BatchService) DeleteBatch(ctx context.Context, batchNumber string) (*repository.Batch, error) {
	var deleted *repository.Batch
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.batches.DeleteUntouched(ctx, batchNumber)
		if stderrors.Is(err, repository.ErrNotDeleted) {
			if _, getErr := s.batches.GetByNumber(ctx, batchNumber); getErr != nil {
				return getErr
			}
			return errors.Conflict("cannot delete batch " + batchNumber + ": stock has already been taken from it")
		}
		if err != nil {
			return err
		}
		_, err = s.products.AdjustStock(ctx, deleted.ProductID, -deleted.RemainingQuantity)
		return err
	})
	if err != nil {
		s.logFailure(err, "delete batch", batchNumber, "")
		return nil, err
	}

	s.logger.WithBatch(batchNumber).Info().Msg("batch deleted")
	s.stock.Invalidate(ctx, deleted.ProductID)
	s.publisher.PublishBatchDeleted(ctx, deleted)
	return deleted, nil
}

// GetBatchByNumber gets a single batch
func (s *BatchService) GetBatchByNumber(ctx context.Context, batchNumber string) (*repository.Batch, error) {
	return s.batches.GetByNumber(ctx, batchNumber)
}

// GetBatchesByProductID lists a product's batches, nearest expiry first
func (s *BatchService) GetBatchesByProductID(ctx context.Context, productID string) ([]repository.Batch, error) {
	return s.batches.ListByProduct(ctx, productID)
}

// GetAllBatches lists every batch
func (s *BatchService) GetAllBatches(ctx context.Context) ([]repository.Batch, error) {
	return s.batches.ListAll(ctx)
}

// ListBatches returns one page of batches. Page and limit are normalized.
func (s *BatchService) ListBatches(ctx context.Context, filter repository.BatchFilter) ([]repository.Batch, int64, repository.BatchFilter, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	batches, total, err := s.batches.List(ctx, filter)
	if err != nil {
		return nil, 0, filter, err
	}
	return batches, total, filter, nil
}

// logFailure logs upstream failures; client errors are left to the access log.
func (s *BatchService) logFailure(err error, op, batchNumber, productID string) {
	if !errors.Is(err, errors.ErrUpstream) {
		return
	}
	log := s.logger
	if batchNumber != "" {
		log = log.WithBatch(batchNumber)
	}
	if productID != "" {
		log = log.WithProduct(productID)
	}
	log.Error().Err(err).Str("operation", op).Msg("batch operation failed")
}
