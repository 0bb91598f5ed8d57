// Command stock-reconcile recomputes every product's current stock once and
// exits. It is meant to be run by an external scheduler when the in-process
// reconciler is disabled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/storefront/storefront-backend/internal/inventory/events"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/cache"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/database"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/messaging"
)

const serviceName = "stock-reconcile"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stock-reconcile: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log := logger.New(serviceName, cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.New(ctx, &cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Events are best effort here; without a broker the run still corrects stock.
	var publisher *events.InventoryEventPublisher
	if rmq, err := messaging.New(&cfg.RabbitMQ, log); err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, stock reconciled events will not be published")
	} else {
		defer rmq.Close()
		if publisher, err = events.NewRabbitMQPublisher(rmq, log); err != nil {
			log.Warn().Err(err).Msg("failed to create event publisher")
		}
	}

	productRepo := repository.NewProductRepository(db)
	stock := service.NewStockProjection(productRepo, redisClient, cfg.Redis.StockCacheTTL, log)
	reconciler := service.NewReconciliationService(db, repository.NewBatchRepository(db), productRepo,
		repository.NewOrderRepository(db), redisClient, cfg.Reconciliation.LockTTL, stock, publisher, log)

	summary, err := reconciler.RunExclusive(ctx)
	if errors.Is(err, service.ErrRunInProgress) {
		log.Info().Msg("another reconciliation is running, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d products failed to reconcile", summary.Failed, summary.Products)
	}
	return nil
}
