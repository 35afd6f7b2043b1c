package service_test

import (
	"context"
	"database/sql/driver"
	"fmt"
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

var transferColumns = []string{
	"id", "transfer_number", "from_branch_id", "to_branch_id", "status",
	"priority", "requested_by", "notes", "created_at", "updated_at",
}

var (
	transferItemColumns = []string{"id", "transfer_id", "product_id", "requested_quantity"}
	allocationColumns   = []string{"id", "transfer_item_id", "batch_id", "quantity"}
)

func transferRow(id, status string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "TR-000042", "branch-1", "branch-2", status,
		"normal", "user-1", nil, now, now,
	}
}

type allocRow struct {
	batchID  string
	quantity int
}

type transferFixture struct {
	service   *service.TransferService
	mockDB    *testutil.MockDB
	publisher *testutil.MockPublisher
	clock     *clock.Fixed
}

func newTransferFixture(t *testing.T) *transferFixture {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	batches := repository.NewBatchRepository(db)
	sink := testutil.NewMockPublisher()
	clk := clock.NewFixed(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := service.NewTransferService(
		db,
		repository.NewTransferRepository(db),
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

	return &transferFixture{service: svc, mockDB: mockDB, publisher: sink, clock: clk}
}

// expectTransferLoad queues the three queries GetByID issues for a transfer
// "t1" with a single item "i1" for product-1.
func (f *transferFixture) expectTransferLoad(status string, itemQty int, allocs ...allocRow) {
	f.mockDB.ExpectQuery("SELECT * FROM transfer_requests WHERE id = $1").
		WithArgs("t1").
		WillReturnRows(testutil.MockRows(transferColumns...).AddRow(transferRow("t1", status)...))

	f.mockDB.ExpectQuery("SELECT * FROM transfer_items WHERE transfer_id = $1 ORDER BY id").
		WithArgs("t1").
		WillReturnRows(testutil.MockRows(transferItemColumns...).AddRow("i1", "t1", "product-1", itemQty))

	rows := testutil.MockRows(allocationColumns...)
	for i, a := range allocs {
		rows.AddRow(fmt.Sprintf("a%d", i+1), "i1", a.batchID, a.quantity)
	}
	f.mockDB.ExpectQuery("SELECT * FROM transfer_batch_allocations WHERE transfer_item_id = $1 ORDER BY id").
		WithArgs("i1").
		WillReturnRows(rows)
}

func TestTransferService_Approve_ReservesFIFOAndWritesAllocations(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectTransferLoad("pending", 50)

	// The oldest batch covers 30 of the 50, the next one the rest
	f.mockDB.ExpectQuery("ORDER BY expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC").
		WithArgs("product-1", "branch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(fifoBatchRow("b1", 30, 1)...).
			AddRow(fifoBatchRow("b2", 40, 1)...))

	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b2", 1, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.mockDB.ExpectBegin()
	f.mockDB.ExpectExec("INSERT INTO transfer_batch_allocations").
		WithArgs(testutil.AnyUUID{}, "i1", "b1", 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_batch_allocations").
		WithArgs(testutil.AnyUUID{}, "i1", "b2", 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("UPDATE transfer_requests").
		WithArgs("t1", "pending", "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	transfer, err := f.service.Approve(context.Background(), systemActor(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, repository.TransferStatusApproved, transfer.Status)

	f.publisher.AssertEventPublished(t, messaging.EventTransferApproved)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Approve_ShortfallOnSecondItemRollsBackFirst(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM transfer_requests WHERE id = $1").
		WithArgs("t1").
		WillReturnRows(testutil.MockRows(transferColumns...).AddRow(transferRow("t1", "pending")...))
	f.mockDB.ExpectQuery("SELECT * FROM transfer_items WHERE transfer_id = $1 ORDER BY id").
		WithArgs("t1").
		WillReturnRows(testutil.MockRows(transferItemColumns...).
			AddRow("i1", "t1", "product-1", 30).
			AddRow("i2", "t1", "product-2", 50))
	f.mockDB.ExpectQuery("SELECT * FROM transfer_batch_allocations WHERE transfer_item_id = $1 ORDER BY id").
		WithArgs("i1").
		WillReturnRows(testutil.MockRows(allocationColumns...))
	f.mockDB.ExpectQuery("SELECT * FROM transfer_batch_allocations WHERE transfer_item_id = $1 ORDER BY id").
		WithArgs("i2").
		WillReturnRows(testutil.MockRows(allocationColumns...))

	// First item reserves cleanly
	f.mockDB.ExpectQuery("ORDER BY expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC").
		WithArgs("product-1", "branch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(fifoBatchRow("b1", 30, 1)...))
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Second item cannot be covered, so the first reservation comes back
	f.mockDB.ExpectQuery("ORDER BY expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC").
		WithArgs("product-2", "branch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(fifoBatchRow("b2", 10, 1)...))
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := f.service.Approve(context.Background(), systemActor(), "t1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	f.publisher.AssertNoEventsPublished(t)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Ship(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectTransferLoad("approved", 30, allocRow{"b1", 30})

	f.mockDB.ExpectBegin()
	f.mockDB.ExpectExec("UPDATE transfer_requests").
		WithArgs("t1", "approved", "shipped").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()

	transfer, err := f.service.Ship(context.Background(), systemActor(), "t1", "van 3, leaves at noon")
	require.NoError(t, err)
	assert.Equal(t, repository.TransferStatusShipped, transfer.Status)

	f.publisher.AssertEventPublished(t, messaging.EventTransferShipped)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Receive_CreatesDestinationBatchWithProvenance(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	f.expectTransferLoad("shipped", 20, allocRow{"b1", 20})

	f.mockDB.ExpectBegin()
	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(batchRowWithExpiry("b1", 80, "active", expiry)...))

	// The destination batch keeps the source lot number, expiry, and cost
	f.mockDB.ExpectQuery("INSERT INTO inventory_batches").
		WithArgs(testutil.AnyUUID{}, "LOT-001", "product-1", "branch-2", 20, 20,
			decimal.RequireFromString("2.5000"), expiry, f.clock.Now(), "active", "transfer", "t1", 1).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))

	f.mockDB.ExpectExec("UPDATE transfer_requests").
		WithArgs("t1", "shipped", "received").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	receiver := &actor.Actor{ID: "user-2", BranchIDs: []string{"branch-2"}}
	transfer, err := f.service.Receive(context.Background(), receiver, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, repository.TransferStatusReceived, transfer.Status)

	f.publisher.AssertEventPublished(t, messaging.EventBatchReceived)
	f.publisher.AssertEventPublished(t, messaging.EventTransferReceived)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Cancel_ReturnsReservedStock(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectTransferLoad("approved", 50, allocRow{"b1", 30}, allocRow{"b2", 20})

	// Every allocation is released in the same transaction as the status
	// change, so a cancelled transfer can never keep stock reserved.
	f.mockDB.ExpectBegin()
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b2", 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("UPDATE transfer_requests").
		WithArgs("t1", "approved", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	transfer, err := f.service.Cancel(context.Background(), systemActor(), "t1", "not needed anymore")
	require.NoError(t, err)
	assert.Equal(t, repository.TransferStatusCancelled, transfer.Status)

	f.publisher.AssertEventPublished(t, messaging.EventStockReleased)
	f.publisher.AssertEventPublished(t, messaging.EventTransferCancelled)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Cancel_AbortsWhenReleaseFails(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectTransferLoad("approved", 30, allocRow{"b1", 30})

	// The release cannot land, so the whole cancellation rolls back rather
	// than completing with the reservation still held.
	f.mockDB.ExpectBegin()
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 30).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mockDB.ExpectQuery("SELECT * FROM inventory_batches WHERE id = $1").
		WithArgs("b1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(batchRowWithExpiry("b1", 90, "active", nil)...))
	f.mockDB.ExpectRollback()

	_, err := f.service.Cancel(context.Background(), systemActor(), "t1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	f.publisher.AssertNoEventsPublished(t)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Cancel_FromPendingTouchesNoStock(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectTransferLoad("pending", 30)

	f.mockDB.ExpectBegin()
	f.mockDB.ExpectExec("UPDATE transfer_requests").
		WithArgs("t1", "pending", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()

	transfer, err := f.service.Cancel(context.Background(), systemActor(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, repository.TransferStatusCancelled, transfer.Status)

	f.publisher.AssertEventPublished(t, messaging.EventTransferCancelled)
	f.mockDB.ExpectationsWereMet(t)
}

// expectEmergencyCreate queues the lookups and inserts the Create step of an
// emergency transfer performs: branch checks, product check, number sequence,
// and the pending transfer row.
func (f *transferFixture) expectEmergencyCreate() {
	f.mockDB.ExpectQuery("SELECT * FROM branches WHERE id = $1").
		WithArgs("branch-2").
		WillReturnRows(testutil.MockRows(branchColumns...).
			AddRow(branchRow("branch-2", "Uptown", nil, nil)...))
	f.mockDB.ExpectQuery("SELECT * FROM branches WHERE id = $1").
		WithArgs("branch-1").
		WillReturnRows(testutil.MockRows(branchColumns...).
			AddRow(branchRow("branch-1", "Downtown", nil, nil)...))
	f.mockDB.ExpectQuery("SELECT * FROM products WHERE id = $1").
		WithArgs("product-1").
		WillReturnRows(testutil.MockRows(productColumns...).AddRow(productRow("product-1", true)...))
	f.mockDB.ExpectQuery("SELECT nextval('transfer_number_seq')").
		WillReturnRows(testutil.MockRows("nextval").AddRow(7))

	f.mockDB.ExpectBegin()
	f.mockDB.ExpectQuery("INSERT INTO transfer_requests").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	f.mockDB.ExpectExec("INSERT INTO transfer_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()
}

func TestTransferService_EmergencyTransfer_TrimsToAvailableStock(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectEmergencyCreate()

	// The source only has 30 of the requested 50
	f.mockDB.ExpectQuery("ORDER BY expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC").
		WithArgs("product-1", "branch-2").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(fifoBatchRow("b1", 30, 1)...))
	f.mockDB.ExpectExec("UPDATE inventory_batches").
		WithArgs("b1", 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.mockDB.ExpectBegin()
	f.mockDB.ExpectExec("UPDATE transfer_items").
		WithArgs(testutil.AnyUUID{}, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_batch_allocations").
		WithArgs(testutil.AnyUUID{}, testutil.AnyUUID{}, "b1", 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("UPDATE transfer_requests").
		WithArgs(testutil.AnyUUID{}, "pending", "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectExec("INSERT INTO transfer_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mockDB.ExpectCommit()

	f.mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	// Re-read of the finished transfer with the trimmed quantity
	f.mockDB.ExpectQuery("SELECT * FROM transfer_requests WHERE id = $1").
		WithArgs(testutil.AnyUUID{}).
		WillReturnRows(testutil.MockRows(transferColumns...).AddRow(transferRow("t1", "approved")...))
	f.mockDB.ExpectQuery("SELECT * FROM transfer_items WHERE transfer_id = $1 ORDER BY id").
		WithArgs(testutil.AnyUUID{}).
		WillReturnRows(testutil.MockRows(transferItemColumns...).AddRow("i1", "t1", "product-1", 30))
	f.mockDB.ExpectQuery("SELECT * FROM transfer_batch_allocations WHERE transfer_item_id = $1 ORDER BY id").
		WithArgs("i1").
		WillReturnRows(testutil.MockRows(allocationColumns...).AddRow("a1", "i1", "b1", 30))

	transfer, err := f.service.EmergencyTransfer(context.Background(), systemActor(), &service.CreateTransferInput{
		FromBranchID: "branch-2",
		ToBranchID:   "branch-1",
		Items:        []service.TransferItemInput{{ProductID: "product-1", Quantity: 50}},
		AllowPartial: true,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.TransferStatusApproved, transfer.Status)
	require.Len(t, transfer.Items, 1)
	assert.Equal(t, 30, transfer.Items[0].RequestedQuantity)
	require.Len(t, transfer.Items[0].Allocations, 1)
	assert.Equal(t, 30, transfer.Items[0].Allocations[0].Quantity)

	f.publisher.AssertEventPublished(t, messaging.EventTransferApproved)
	f.mockDB.ExpectationsWereMet(t)
}

func TestTransferService_EmergencyTransfer_ShortfallFailsWithoutAllowPartial(t *testing.T) {
	f := newTransferFixture(t)
	defer f.mockDB.Close()

	f.expectEmergencyCreate()

	f.mockDB.ExpectQuery("ORDER BY expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC").
		WithArgs("product-1", "branch-2").
		WillReturnRows(testutil.MockRows(batchColumns...).AddRow(fifoBatchRow("b1", 30, 1)...))

	_, err := f.service.EmergencyTransfer(context.Background(), systemActor(), &service.CreateTransferInput{
		FromBranchID: "branch-2",
		ToBranchID:   "branch-1",
		Items:        []service.TransferItemInput{{ProductID: "product-1", Quantity: 50}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	f.mockDB.ExpectationsWereMet(t)
}
