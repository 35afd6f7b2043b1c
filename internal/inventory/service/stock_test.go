package service_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshmart/freshmart-backend/internal/inventory/events"
	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/clock"
	"github.com/freshmart/freshmart-backend/pkg/config"
	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
	"github.com/freshmart/freshmart-backend/pkg/messaging"
	"github.com/freshmart/freshmart-backend/pkg/testutil"
)

var productColumns = []string{
	"id", "name", "sku", "category", "is_perishable", "shelf_life_days",
	"created_at", "updated_at",
}

func productRow(id string, perishable bool) []driver.Value {
	now := time.Now()
	return []driver.Value{id, "Whole Milk 1L", "SKU-001", nil, perishable, 7, now, now}
}

func fifoBatchRow(id string, stock, version int) []driver.Value {
	now := time.Now()
	expiry := now.AddDate(0, 0, 5)
	return []driver.Value{
		id, "LOT-" + id, "product-1", "branch-1", 100,
		stock, "2.5000", expiry, now, "active",
		"direct", nil, version, nil, nil,
		nil, nil, now, now,
	}
}

type stockFixture struct {
	service   *service.StockService
	mockDB    *testutil.MockDB
	publisher *testutil.MockPublisher
	clock     *clock.Fixed
}

func newStockFixture(t *testing.T) *stockFixture {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	batches := repository.NewBatchRepository(db)
	sink := testutil.NewMockPublisher()
	clk := clock.NewFixed(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := service.NewStockService(
		batches,
		repository.NewMovementRepository(db),
		repository.NewBranchRepository(db),
		service.NewFifoAllocator(batches),
		events.NewPublisher(sink, log),
		clk,
		&config.StockConfig{
			ReserveMaxAttempts: 1,
			ReserveBackoff:     time.Millisecond,
			PlanMaxRounds:      1,
		},
		log,
	)

	return &stockFixture{service: svc, mockDB: mockDB, publisher: sink, clock: clk}
}

func systemActor() *actor.Actor {
	return &actor.Actor{ID: "user-1", BranchIDs: []string{"branch-1"}}
}

func TestStockService_ReceiveBatch(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	expiry := f.clock.Now().AddDate(0, 0, 7)
	input := &service.ReceiveBatchInput{
		BatchNumber: "LOT-2026-001",
		ProductID:   "product-1",
		BranchID:    "branch-1",
		Quantity:    120,
		UnitCost:    decimal.NewFromFloat(2.50),
		ExpiryDate:  &expiry,
	}

	f.mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs("product-1").
		WillReturnRows(testutil.MockRows(productColumns...).AddRow(productRow("product-1", true)...))

	f.mockDB.ExpectQuery("SELECT EXISTS").
		WithArgs("branch-1", "LOT-2026-001").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	f.mockDB.ExpectQuery("INSERT INTO inventory_batches").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	batch, err := f.service.ReceiveBatch(context.Background(), systemActor(), input)
	require.NoError(t, err)
	assert.Equal(t, 120, batch.CurrentStock)
	assert.Equal(t, 1, batch.Version)
	assert.Equal(t, repository.BatchStatusActive, batch.Status)
	assert.Equal(t, repository.BatchSourceDirect, batch.SourceType)

	f.publisher.AssertEventPublished(t, messaging.EventBatchReceived)
	f.mockDB.ExpectationsWereMet(t)
}

func TestStockService_ReceiveBatch_PerishableRequiresExpiry(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs("product-1").
		WillReturnRows(testutil.MockRows(productColumns...).AddRow(productRow("product-1", true)...))

	_, err := f.service.ReceiveBatch(context.Background(), systemActor(), &service.ReceiveBatchInput{
		BatchNumber: "LOT-2026-001",
		ProductID:   "product-1",
		BranchID:    "branch-1",
		Quantity:    10,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	f.publisher.AssertNoEventsPublished(t)
}

func TestStockService_ReceiveBatch_ExpiryMustBeFuture(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs("product-1").
		WillReturnRows(testutil.MockRows(productColumns...).AddRow(productRow("product-1", true)...))

	past := f.clock.Now().AddDate(0, 0, -1)
	_, err := f.service.ReceiveBatch(context.Background(), systemActor(), &service.ReceiveBatchInput{
		BatchNumber: "LOT-2026-001",
		ProductID:   "product-1",
		BranchID:    "branch-1",
		Quantity:    10,
		ExpiryDate:  &past,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestStockService_ReceiveBatch_DuplicateBatchNumber(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs("product-1").
		WillReturnRows(testutil.MockRows(productColumns...).AddRow(productRow("product-1", false)...))

	f.mockDB.ExpectQuery("SELECT EXISTS").
		WithArgs("branch-1", "LOT-2026-001").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	_, err := f.service.ReceiveBatch(context.Background(), systemActor(), &service.ReceiveBatchInput{
		BatchNumber: "LOT-2026-001",
		ProductID:   "product-1",
		BranchID:    "branch-1",
		Quantity:    10,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestStockService_ReceiveBatch_BranchAccessDenied(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	act := &actor.Actor{ID: "user-1", BranchIDs: []string{"other-branch"}}
	_, err := f.service.ReceiveBatch(context.Background(), act, &service.ReceiveBatchInput{
		BatchNumber: "LOT-2026-001",
		ProductID:   "product-1",
		BranchID:    "branch-1",
		Quantity:    10,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
}

func TestStockService_DeductForSale_ConsumesOldestBatchesFirst(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches").
		WithArgs("product-1", "branch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(fifoBatchRow("b1", 30, 1)...).
			AddRow(fifoBatchRow("b2", 30, 1)...))

	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b2", 1, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	plan, err := f.service.DeductForSale(context.Background(), systemActor(), &service.DeductInput{
		ProductID: "product-1",
		BranchID:  "branch-1",
		Quantity:  50,
		Reference: "POS-1234",
	})
	require.NoError(t, err)
	assert.True(t, plan.FullyFulfilled)
	require.Len(t, plan.Deductions, 2)
	assert.Equal(t, "b1", plan.Deductions[0].Batch.ID)
	assert.Equal(t, 30, plan.Deductions[0].Quantity)
	assert.Equal(t, "b2", plan.Deductions[1].Batch.ID)
	assert.Equal(t, 20, plan.Deductions[1].Quantity)

	f.publisher.AssertEventPublished(t, messaging.EventStockDeducted)
	f.mockDB.ExpectationsWereMet(t)
}

func TestStockService_DeductForSale_InsufficientStock(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches").
		WithArgs("product-1", "branch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(fifoBatchRow("b1", 15, 1)...))

	_, err := f.service.DeductForSale(context.Background(), systemActor(), &service.DeductInput{
		ProductID: "product-1",
		BranchID:  "branch-1",
		Quantity:  50,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	f.publisher.AssertNoEventsPublished(t)
	f.mockDB.ExpectationsWereMet(t)
}

// A reservation that fails mid-plan must release the batches already taken.
func TestStockService_DeductForSale_RollsBackOnMidPlanFailure(t *testing.T) {
	f := newStockFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches").
		WithArgs("product-1", "branch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(fifoBatchRow("b1", 30, 1)...).
			AddRow(fifoBatchRow("b2", 30, 1)...))

	// First reservation lands
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Second loses the guarded update; the re-read shows a concurrent sale
	// drained the batch
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b2", 1, 20).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b2").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(fifoBatchRow("b2", 5, 2)...))

	// The retry loop re-reads before giving up on the shortfall
	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b2").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(fifoBatchRow("b2", 5, 2)...))

	// The committed b1 reservation is released
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := f.service.DeductForSale(context.Background(), systemActor(), &service.DeductInput{
		ProductID: "product-1",
		BranchID:  "branch-1",
		Quantity:  50,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	f.publisher.AssertNoEventsPublished(t)
	f.mockDB.ExpectationsWereMet(t)
}
