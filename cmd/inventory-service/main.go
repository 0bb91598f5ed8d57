package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/storefront/storefront-backend/internal/inventory/consumers"
	"github.com/storefront/storefront-backend/internal/inventory/events"
	"github.com/storefront/storefront-backend/internal/inventory/handler"
	"github.com/storefront/storefront-backend/internal/inventory/migrations"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/auth"
	"github.com/storefront/storefront-backend/pkg/cache"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/database"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/messaging"
)

const serviceName = "inventory-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.MigrateOnStart {
		if err := migrate(&cfg.Database, log); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()
	go rmq.Watch(ctx)

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	redisClient, err := cache.New(ctx, &cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()

	publisher, err := events.NewRabbitMQPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Repositories
	batchRepo := repository.NewBatchRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	counterRepo := repository.NewCounterRepository(db)
	fulfillmentRepo := repository.NewFulfillmentRepository(db)

	// Services
	stock := service.NewStockProjection(productRepo, redisClient, cfg.Redis.StockCacheTTL, log)
	batchService := service.NewBatchService(db, batchRepo, productRepo,
		service.NewSequenceGenerator(counterRepo), stock, publisher, log)
	allocationService := service.NewAllocationService(batchRepo, orderRepo)
	fulfillmentService := service.NewFulfillmentService(db, batchRepo, orderRepo, fulfillmentRepo, batchService, log)
	reconciliationService := service.NewReconciliationService(db, batchRepo, productRepo, orderRepo,
		redisClient, cfg.Reconciliation.LockTTL, stock, publisher, log)

	orderConsumer, err := consumers.NewOrderEventConsumer(rmq, fulfillmentService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create order event consumer")
	}
	if err := orderConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start order event consumer")
	}

	var scheduler *service.StockReconciler
	if cfg.Reconciliation.Enabled {
		scheduler = service.NewStockReconciler(reconciliationService, redisClient, &cfg.Reconciliation, log)
		scheduler.Start(ctx)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Batches:      handler.NewBatchHandler(batchService, log),
		SalesHistory: handler.NewSalesHistoryHandler(allocationService, log),
		Stock:        handler.NewStockHandler(reconciliationService, stock, log),
		Health: handler.NewHealthHandler(serviceName, map[string]handler.HealthChecker{
			"database": db,
			"rabbitmq": rmq,
			"redis":    redisClient,
		}),
		Verifier:       auth.NewVerifier(&cfg.JWT),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop consumers and wait for a scheduled run to finish
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	log.Info().Msg("server stopped")
}

func migrate(cfg *config.DatabaseConfig, log *logger.Logger) error {
	m, err := database.NewMigrator(cfg.MigrationURL(), migrations.FS, migrations.Dir, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
