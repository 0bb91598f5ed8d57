package service

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/storefront-backend/internal/inventory/events"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// ReconcileLockKey guards a full reconciliation run across replicas
const ReconcileLockKey = "lock:stock-reconciliation"

// ErrRunInProgress is returned when another full reconciliation holds the lock
var ErrRunInProgress = errors.New("RUN_IN_PROGRESS", "stock reconciliation is already running", http.StatusConflict)

// StockComponents are the inputs and output of one product's reconciliation
type StockComponents struct {
	ProductID      string `json:"productId"`
	PreviousStock  int    `json:"previousStock"`
	TotalRemaining int    `json:"totalRemaining"`
	TotalPending   int    `json:"totalPending"`
	CurrentStock   int    `json:"currentStock"`
}

// ReconcileSummary describes a full reconciliation run
type ReconcileSummary struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Products   int       `json:"products"`
	Updated    int       `json:"updated"`
	Changed    int       `json:"changed"`
	Failed     int       `json:"failed"`
}

// ReconciliationService recomputes products.current_stock from batches and
// pending order demand. The recompute is authoritative over the incremental
// adjustments made by the batch lifecycle.
type ReconciliationService struct {
	tx        TxRunner
	batches   BatchStore
	products  ProductStore
	orders    OrderStore
	locker    Locker
	lockTTL   time.Duration
	stock     StockInvalidator
	publisher *events.InventoryEventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewReconciliationService creates a new reconciliation service. A nil locker
// runs without cross-replica exclusion.
func NewReconciliationService(
	tx TxRunner,
	batches BatchStore,
	products ProductStore,
	orders OrderStore,
	locker Locker,
	lockTTL time.Duration,
	stock StockInvalidator,
	publisher *events.InventoryEventPublisher,
	log *logger.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		tx:        tx,
		batches:   batches,
		products:  products,
		orders:    orders,
		locker:    locker,
		lockTTL:   lockTTL,
		stock:     stock,
		publisher: publisher,
		logger:    log.WithComponent("stock-reconciliation"),
		now:       time.Now,
	}
}

// UpdateProductStock sets a product's current stock to the unexpired remaining
// quantity of its batches minus pending order demand, floored at zero.
func (s *ReconciliationService) UpdateProductStock(ctx context.Context, productID string) (*StockComponents, error) {
	now := s.now()
	result := &StockComponents{ProductID: productID}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		remaining, err := s.batches.SumUnexpiredRemaining(ctx, productID, now)
		if err != nil {
			return err
		}
		pending, err := s.orders.SumPendingQuantity(ctx, productID)
		if err != nil {
			return err
		}

		result.TotalRemaining = remaining
		result.TotalPending = pending
		result.CurrentStock = max(0, remaining-pending)

		result.PreviousStock, err = s.products.SetStock(ctx, productID, result.CurrentStock)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.stock.Invalidate(ctx, productID)
	if result.PreviousStock != result.CurrentStock {
		s.logger.WithProduct(productID).Info().
			Int("previous_stock", result.PreviousStock).
			Int("current_stock", result.CurrentStock).
			Msg("product stock corrected")
		s.publisher.PublishStockReconciled(ctx, productID, result.PreviousStock, result.CurrentStock,
			result.TotalRemaining, result.TotalPending, now)
	}
	return result, nil
}

// UpdateAllProductsStock reconciles every live product in turn. A failure for
// one product is logged and the run continues.
func (s *ReconciliationService) UpdateAllProductsStock(ctx context.Context) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{StartedAt: s.now()}

	ids, err := s.products.ListActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	summary.Products = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.UpdateProductStock(ctx, id)
		if err != nil {
			summary.Failed++
			s.logger.WithProduct(id).Error().Err(err).Msg("failed to reconcile product stock")
			continue
		}
		summary.Updated++
		if result.PreviousStock != result.CurrentStock {
			summary.Changed++
		}
	}

	summary.FinishedAt = s.now()
	s.logger.Info().
		Int("products", summary.Products).
		Int("updated", summary.Updated).
		Int("changed", summary.Changed).
		Int("failed", summary.Failed).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("stock reconciliation finished")
	return summary, nil
}

// RunExclusive runs UpdateAllProductsStock while holding the reconciliation
// lock. It returns ErrRunInProgress if another run holds it.
func (s *ReconciliationService) RunExclusive(ctx context.Context) (*ReconcileSummary, error) {
	if s.locker == nil {
		return s.UpdateAllProductsStock(ctx)
	}

	token := uuid.NewString()
	acquired, err := s.locker.AcquireLock(ctx, ReconcileLockKey, token, s.lockTTL)
	if err != nil {
		return nil, errors.Upstream("failed to acquire reconciliation lock", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		// Released even if ctx was cancelled mid-run.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLock(releaseCtx, ReconcileLockKey, token); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release reconciliation lock")
		}
	}()

	return s.UpdateAllProductsStock(ctx)
}
