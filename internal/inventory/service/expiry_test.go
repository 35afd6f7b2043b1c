package service_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshmart/freshmart-backend/internal/inventory/events"
	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/clock"
	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
	"github.com/freshmart/freshmart-backend/pkg/messaging"
	"github.com/freshmart/freshmart-backend/pkg/testutil"
)

var batchColumns = []string{
	"id", "batch_number", "product_id", "branch_id", "quantity_received",
	"current_stock", "unit_cost", "expiry_date", "received_date", "status",
	"source_type", "source_transfer_id", "version", "disposed_quantity",
	"disposed_at", "disposed_by", "disposal_reason", "created_at", "updated_at",
}

func batchRowWithExpiry(id string, stock int, status string, expiry interface{}) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "LOT-001", "product-1", "branch-1", 100,
		stock, "2.5000", expiry, now, status,
		"direct", nil, 1, nil, nil,
		nil, nil, now, now,
	}
}

func disposedBatchRow(id string, disposedQty int) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "LOT-001", "product-1", "branch-1", 100,
		0, "2.5000", nil, now, "disposed",
		"direct", nil, 2, disposedQty, now,
		"user-1", nil, now, now,
	}
}

type expiryFixture struct {
	service   *service.ExpiryService
	mockDB    *testutil.MockDB
	publisher *testutil.MockPublisher
	clock     *clock.Fixed
}

func newExpiryFixture(t *testing.T) *expiryFixture {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	sink := testutil.NewMockPublisher()
	clk := clock.NewFixed(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := service.NewExpiryService(
		repository.NewBatchRepository(db),
		repository.NewMovementRepository(db),
		events.NewPublisher(sink, log),
		clk,
		log,
	)

	return &expiryFixture{service: svc, mockDB: mockDB, publisher: sink, clock: clk}
}

func TestExpiryService_SweepExpired(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	expiredOn := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	rows := testutil.MockRows(batchColumns...).
		AddRow(batchRowWithExpiry("b1", 30, "expired", expiredOn)...).
		AddRow(batchRowWithExpiry("b2", 0, "expired", expiredOn)...)

	f.mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs(f.clock.Now()).
		WillReturnRows(rows)

	count, err := f.service.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, f.publisher.PublishedEvents, 2)
	f.publisher.AssertEventPublished(t, messaging.EventBatchExpired)

	f.mockDB.ExpectationsWereMet(t)
}

func TestExpiryService_SweepExpired_NothingDue(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("UPDATE inventory_batches").
		WithArgs(f.clock.Now()).
		WillReturnRows(testutil.MockRows(batchColumns...))

	count, err := f.service.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	f.publisher.AssertNoEventsPublished(t)
}

func TestExpiryService_Dispose(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	act := &actor.Actor{ID: "user-1", BranchIDs: []string{"branch-1"}}

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(batchRowWithExpiry("b1", 30, "expired", nil)...))

	// No in-flight transfer holds the batch
	f.mockDB.ExpectQuery("SELECT EXISTS").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows("exists").AddRow(false))

	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", "user-1", "spoiled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(disposedBatchRow("b1", 30)...))

	batch, err := f.service.Dispose(context.Background(), act, "b1", "spoiled")
	require.NoError(t, err)
	assert.Equal(t, "disposed", batch.Status)
	assert.Equal(t, 0, batch.CurrentStock)
	require.NotNil(t, batch.DisposedQuantity)
	assert.Equal(t, 30, *batch.DisposedQuantity)

	f.publisher.AssertEventPublished(t, messaging.EventBatchDisposed)
	f.mockDB.ExpectationsWereMet(t)
}

func TestExpiryService_Dispose_BlockedByInFlightTransfer(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(batchRowWithExpiry("b1", 30, "expired", nil)...))

	f.mockDB.ExpectQuery("SELECT EXISTS").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	_, err := f.service.Dispose(context.Background(), nil, "b1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	f.publisher.AssertNoEventsPublished(t)
}

func TestExpiryService_Dispose_AccessDenied(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	act := &actor.Actor{ID: "user-1", BranchIDs: []string{"other-branch"}}

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(batchRowWithExpiry("b1", 30, "expired", nil)...))

	_, err := f.service.Dispose(context.Background(), act, "b1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
}

func TestExpiryService_UndoDisposal(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(disposedBatchRow("b1", 30)...))

	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(batchRowWithExpiry("b1", 30, "active", nil)...))

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	batch, err := f.service.UndoDisposal(context.Background(), nil, "b1")
	require.NoError(t, err)
	assert.Equal(t, "active", batch.Status)
	assert.Equal(t, 30, batch.CurrentStock)

	f.publisher.AssertEventPublished(t, messaging.EventBatchDisposalReversed)
	f.mockDB.ExpectationsWereMet(t)
}

func TestExpiryService_UndoDisposal_RequiresPermission(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	act := &actor.Actor{ID: "user-1", BranchIDs: []string{"branch-1"}, Permissions: []string{"inventory.read"}}

	_, err := f.service.UndoDisposal(context.Background(), act, "b1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
}

func TestExpiryService_Dispose_ZeroStockIsNoOp(t *testing.T) {
	f := newExpiryFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(batchRowWithExpiry("b1", 0, "depleted", nil)...))

	batch, err := f.service.Dispose(context.Background(), nil, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, "depleted", batch.Status)

	f.publisher.AssertNoEventsPublished(t)
	f.mockDB.ExpectationsWereMet(t)
}
