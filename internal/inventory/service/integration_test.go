package service_test

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/internal/inventory/migrations"
	"github.com/storefront/storefront-backend/internal/inventory/repository"
	"github.com/storefront/storefront-backend/internal/inventory/service"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx, migrations.FS, migrations.Dir)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

type services struct {
	batches        *service.BatchService
	allocation     *service.AllocationService
	fulfillment    *service.FulfillmentService
	reconciliation *service.ReconciliationService
}

func newServices(t *testing.T) services {
	t.Helper()
	testutil.SkipIfShort(t)
	suite.Reset(t, "order_fulfillments", "inventory_batches", "order_items", "orders", "products", "counters")

	log := logger.Nop()
	batchRepo := repository.NewBatchRepository(suite.DB)
	productRepo := repository.NewProductRepository(suite.DB)
	orderRepo := repository.NewOrderRepository(suite.DB)
	stock := service.NewStockProjection(productRepo, nil, time.Minute, log)

	batches := service.NewBatchService(suite.DB, batchRepo, productRepo,
		service.NewSequenceGenerator(repository.NewCounterRepository(suite.DB)), stock, nil, log)

	return services{
		batches:     batches,
		allocation:  service.NewAllocationService(batchRepo, orderRepo),
		fulfillment: service.NewFulfillmentService(suite.DB, batchRepo, orderRepo, repository.NewFulfillmentRepository(suite.DB), batches, log),
		reconciliation: service.NewReconciliationService(suite.DB, batchRepo, productRepo, orderRepo,
			nil, time.Minute, stock, nil, log),
	}
}

func createInput(productID string, quantity int, expiresIn time.Duration) service.CreateBatchInput {
	return service.CreateBatchInput{
		ProductID:  productID,
		Importer:   "admin-1",
		Quantity:   quantity,
		CostPrice:  decimal.RequireFromString("3.75"),
		ExpiryDate: time.Now().Add(expiresIn).UTC().Truncate(time.Second),
	}
}

func TestIntegration_BatchLifecycle(t *testing.T) {
	svc := newServices(t)
	ctx := testutil.DefaultTestContext(t)
	p1 := suite.Fixtures.InsertProduct(t, suite.Fixtures.Product())

	batch, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 100, 30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "BN-000001", batch.BatchNumber)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, 100, suite.Fixtures.CurrentStock(t, p1.ID))

	_, err = svc.batches.DeductQuantityFromBatch(ctx, batch.BatchNumber, 30)
	require.NoError(t, err)
	assert.Equal(t, 70, suite.Fixtures.CurrentStock(t, p1.ID))

	_, err = svc.batches.DeductQuantityFromBatch(ctx, batch.BatchNumber, 80)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	assert.Equal(t, 70, suite.Fixtures.CurrentStock(t, p1.ID))

	updated, err := svc.batches.UpdateBatch(ctx, batch.BatchNumber, service.UpdateBatchInput{NewQuantity: testutil.PtrInt(50)})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Quantity)
	assert.Equal(t, 20, updated.RemainingQuantity)
	assert.Equal(t, 20, suite.Fixtures.CurrentStock(t, p1.ID))

	_, err = svc.batches.DeleteBatch(ctx, batch.BatchNumber)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	fresh, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 5, 24*time.Hour))
	require.NoError(t, err)
	_, err = svc.batches.DeleteBatch(ctx, fresh.BatchNumber)
	require.NoError(t, err)
	assert.Equal(t, 20, suite.Fixtures.CurrentStock(t, p1.ID))

	in := createInput(p1.ID, 1, time.Hour)
	in.BatchNumber = batch.BatchNumber
	_, err = svc.batches.CreateBatch(ctx, in)
	assert.True(t, errors.Is(err, errors.ErrDuplicate))

	_, err = svc.batches.CreateBatch(ctx, createInput("00000000-0000-0000-0000-000000000000", 1, time.Hour))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestIntegration_ConcurrentBatchNumbersAreUnique(t *testing.T) {
	svc := newServices(t)
	ctx := testutil.DefaultTestContext(t)
	p1 := suite.Fixtures.InsertProduct(t, suite.Fixtures.Product())

	const n = 20
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 1, time.Hour))
			if assert.NoError(t, err) {
				numbers <- batch.BatchNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for number := range numbers {
		assert.False(t, seen[number], "duplicate batch number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, suite.Fixtures.CurrentStock(t, p1.ID))
}

func TestIntegration_ConcurrentDeductionsNeverOverdraw(t *testing.T) {
	svc := newServices(t)
	ctx := testutil.DefaultTestContext(t)
	p1 := suite.Fixtures.InsertProduct(t, suite.Fixtures.Product())
	batch, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 30, time.Hour))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.batches.DeductQuantityFromBatch(ctx, batch.BatchNumber, 4)
		}()
	}
	wg.Wait()

	current, err := svc.batches.GetBatchByNumber(ctx, batch.BatchNumber)
	require.NoError(t, err)
	assert.Equal(t, 2, current.RemainingQuantity)
	assert.Equal(t, 2, suite.Fixtures.CurrentStock(t, p1.ID))
}

func TestIntegration_ReconciliationAndFulfillment(t *testing.T) {
	svc := newServices(t)
	ctx := testutil.DefaultTestContext(t)
	p1 := suite.Fixtures.InsertProduct(t, suite.Fixtures.Product())

	early, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 20, 10*24*time.Hour))
	require.NoError(t, err)
	late, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 50, 40*24*time.Hour))
	require.NoError(t, err)

	order := suite.Fixtures.InsertOrder(t, suite.Fixtures.Order(testutil.OrderLineFixture{ProductID: p1.ID, Quantity: 10}))

	plan, err := svc.allocation.GetNearestExpiryBatch(ctx, p1.ID, 25)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, early.BatchNumber, plan.Lines[0].BatchNumber)
	assert.Equal(t, late.BatchNumber, plan.Lines[1].BatchNumber)

	// Drift the projection, then reconcile
	_, err = suite.RawDB.Exec(`UPDATE products SET current_stock = 999 WHERE id = $1`, p1.ID)
	require.NoError(t, err)

	result, err := svc.reconciliation.UpdateProductStock(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, result.TotalRemaining)
	assert.Equal(t, 10, result.TotalPending)
	assert.Equal(t, 60, suite.Fixtures.CurrentStock(t, p1.ID))

	again, err := svc.reconciliation.UpdateProductStock(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, result.CurrentStock, again.CurrentStock)

	_, err = suite.RawDB.Exec(`UPDATE orders SET status = 'confirmed' WHERE id = $1`, order.ID)
	require.NoError(t, err)

	fulfilled, err := svc.fulfillment.FulfillOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, fulfilled.AlreadyFulfilled)

	current, err := svc.batches.GetBatchByNumber(ctx, early.BatchNumber)
	require.NoError(t, err)
	assert.Equal(t, 10, current.RemainingQuantity)

	replay, err := svc.fulfillment.FulfillOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyFulfilled)

	summary, err := svc.reconciliation.UpdateAllProductsStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 60, suite.Fixtures.CurrentStock(t, p1.ID), fmt.Sprintf("summary %+v", summary))
}

func TestIntegration_ConcurrentFulfillmentsShareBatches(t *testing.T) {
	svc := newServices(t)
	ctx := testutil.DefaultTestContext(t)
	p1 := suite.Fixtures.InsertProduct(t, suite.Fixtures.Product())

	soon, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 5, 24*time.Hour))
	require.NoError(t, err)
	later, err := svc.batches.CreateBatch(ctx, createInput(p1.ID, 50, 9*24*time.Hour))
	require.NoError(t, err)

	const orders = 2
	ids := make([]string, orders)
	for i := range ids {
		o := suite.Fixtures.Order(testutil.OrderLineFixture{ProductID: p1.ID, Quantity: 5})
		o.Status = "confirmed"
		ids[i] = suite.Fixtures.InsertOrder(t, o).ID
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			result, err := svc.fulfillment.FulfillOrder(ctx, id)
			if assert.NoError(t, err, "order %s", id) {
				assert.False(t, result.AlreadyFulfilled)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	current, err := svc.batches.GetBatchByNumber(ctx, soon.BatchNumber)
	require.NoError(t, err)
	assert.Equal(t, 0, current.RemainingQuantity)

	current, err = svc.batches.GetBatchByNumber(ctx, later.BatchNumber)
	require.NoError(t, err)
	assert.Equal(t, 45, current.RemainingQuantity)
	assert.Equal(t, 45, suite.Fixtures.CurrentStock(t, p1.ID))
}
