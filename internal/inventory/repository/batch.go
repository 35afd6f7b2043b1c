package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
)

// Batch statuses
const (
	BatchStatusActive   = "active"
	BatchStatusExpired  = "expired"
	BatchStatusDisposed = "disposed"
	BatchStatusDepleted = "depleted"
)

// Batch source types
const (
	BatchSourceDirect   = "direct"
	BatchSourceTransfer = "transfer"
)

// Batch represents one received lot of a product at a branch. CurrentStock
// only ever decreases through the versioned Reserve path and increases
// through Release, so it never exceeds QuantityReceived or drops below zero.
type Batch struct {
	ID               string          `db:"id" json:"id"`
	BatchNumber      string          `db:"batch_number" json:"batch_number"`
	ProductID        string          `db:"product_id" json:"product_id"`
	BranchID         string          `db:"branch_id" json:"branch_id"`
	QuantityReceived int             `db:"quantity_received" json:"quantity_received"`
	CurrentStock     int             `db:"current_stock" json:"current_stock"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ExpiryDate       *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	ReceivedDate     time.Time       `db:"received_date" json:"received_date"`
	Status           string          `db:"status" json:"status"`
	SourceType       string          `db:"source_type" json:"source_type"`
	SourceTransferID *string         `db:"source_transfer_id" json:"source_transfer_id,omitempty"`
	Version          int             `db:"version" json:"version"`
	DisposedQuantity *int            `db:"disposed_quantity" json:"disposed_quantity,omitempty"`
	DisposedAt       *time.Time      `db:"disposed_at" json:"disposed_at,omitempty"`
	DisposedBy       *string         `db:"disposed_by" json:"disposed_by,omitempty"`
	DisposalReason   *string         `db:"disposal_reason" json:"disposal_reason,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Available reports whether the batch can contribute stock to an allocation
func (b *Batch) Available() bool {
	return b.Status == BatchStatusActive && b.CurrentStock > 0
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	return r.create(ctx, r.db, batch)
}

// CreateTx creates a new batch inside an existing transaction
func (r *BatchRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, batch *Batch) error {
	return r.create(ctx, tx, batch)
}

func (r *BatchRepository) create(ctx context.Context, q sqlx.QueryerContext, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusActive
	}
	if batch.SourceType == "" {
		batch.SourceType = BatchSourceDirect
	}
	if batch.CurrentStock == 0 {
		batch.CurrentStock = batch.QuantityReceived
	}
	batch.Version = 1

	query := `
		INSERT INTO inventory_batches (
			id, batch_number, product_id, branch_id, quantity_received,
			current_stock, unit_cost, expiry_date, received_date, status,
			source_type, source_transfer_id, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	return q.QueryRowxContext(ctx, query,
		batch.ID, batch.BatchNumber, batch.ProductID, batch.BranchID,
		batch.QuantityReceived, batch.CurrentStock, batch.UnitCost,
		batch.ExpiryDate, batch.ReceivedDate, batch.Status,
		batch.SourceType, batch.SourceTransferID, batch.Version,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM inventory_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetAvailableByProduct returns the active batches with remaining stock for
// a product at a branch, ordered oldest first. Expiry breaks ties before
// receipt date, and batch number keeps the order total. Batches without an
// expiry sort after all dated ones.
func (r *BatchRepository) GetAvailableByProduct(ctx context.Context, productID, branchID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM inventory_batches
		WHERE product_id = $1 AND branch_id = $2
		  AND status = 'active' AND current_stock > 0
		ORDER BY expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC
	`
	if err := r.db.SelectContext(ctx, &batches, query, productID, branchID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListByBranch lists batches at a branch, optionally filtered by status
func (r *BatchRepository) ListByBranch(ctx context.Context, branchID, status string) ([]*Batch, error) {
	var batches []*Batch
	if status != "" {
		query := `
			SELECT * FROM inventory_batches
			WHERE branch_id = $1 AND status = $2
			ORDER BY expiry_date ASC NULLS LAST, received_date ASC
		`
		if err := r.db.SelectContext(ctx, &batches, query, branchID, status); err != nil {
			return nil, err
		}
		return batches, nil
	}

	query := `
		SELECT * FROM inventory_batches
		WHERE branch_id = $1
		ORDER BY expiry_date ASC NULLS LAST, received_date ASC
	`
	if err := r.db.SelectContext(ctx, &batches, query, branchID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ExistsByBatchNumber reports whether a directly received batch with this
// number already exists at the branch. Transfer-created batches keep their
// source lot number and are excluded from the check.
func (r *BatchRepository) ExistsByBatchNumber(ctx context.Context, branchID, batchNumber string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM inventory_batches
			WHERE branch_id = $1 AND batch_number = $2 AND source_type = 'direct'
		)
	`
	if err := r.db.GetContext(ctx, &exists, query, branchID, batchNumber); err != nil {
		return false, err
	}
	return exists, nil
}

// Reserve atomically deducts quantity from a batch using compare-and-swap on
// the version column. A batch that reaches zero stock is marked depleted.
// Returns ErrConcurrentConflict when the version moved underneath the caller,
// ErrInsufficientStock when the batch cannot cover the quantity.
func (r *BatchRepository) Reserve(ctx context.Context, batchID string, version, quantity int) error {
	return r.reserve(ctx, r.db, batchID, version, quantity)
}

func (r *BatchRepository) reserve(ctx context.Context, q sqlx.ExtContext, batchID string, version, quantity int) error {
	query := `
		UPDATE inventory_batches
		SET current_stock = current_stock - $3,
		    version = version + 1,
		    status = CASE WHEN current_stock - $3 = 0 THEN 'depleted' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'active' AND current_stock >= $3
	`

	result, err := q.ExecContext(ctx, query, batchID, version, quantity)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// The guarded update rejected: re-read to tell a stale version from a
	// genuine shortfall.
	var batch Batch
	if err := sqlx.GetContext(ctx, q, &batch, `SELECT * FROM inventory_batches WHERE id = $1`, batchID); err != nil {
		if err == sql.ErrNoRows {
			return errors.NotFound("batch")
		}
		return err
	}

	if batch.Status != BatchStatusActive {
		return errors.InsufficientStock(batch.ProductID, batch.BranchID, quantity, 0)
	}
	if batch.Version != version {
		return errors.ConcurrentConflict("batch", batchID)
	}
	return errors.InsufficientStock(batch.ProductID, batch.BranchID, quantity, batch.CurrentStock)
}

// Release atomically returns quantity to a batch. The result is bounded by
// the original received quantity, so a release can never inflate a batch
// beyond what physically entered the branch. A depleted batch becomes active
// again; a batch the sweep expired while its stock was reserved takes the
// stock back but stays expired.
func (r *BatchRepository) Release(ctx context.Context, batchID string, quantity int) error {
	return r.release(ctx, r.db, batchID, quantity)
}

// ReleaseTx is Release inside an existing transaction
func (r *BatchRepository) ReleaseTx(ctx context.Context, tx *sqlx.Tx, batchID string, quantity int) error {
	return r.release(ctx, tx, batchID, quantity)
}

func (r *BatchRepository) release(ctx context.Context, q sqlx.ExtContext, batchID string, quantity int) error {
	query := `
		UPDATE inventory_batches
		SET current_stock = current_stock + $2,
		    version = version + 1,
		    status = CASE WHEN status = 'depleted' THEN 'active' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'depleted', 'expired')
		  AND current_stock + $2 <= quantity_received
	`

	result, err := q.ExecContext(ctx, query, batchID, quantity)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var batch Batch
	if err := sqlx.GetContext(ctx, q, &batch, `SELECT * FROM inventory_batches WHERE id = $1`, batchID); err != nil {
		if err == sql.ErrNoRows {
			return errors.NotFound("batch")
		}
		return err
	}

	return errors.Conflict("release exceeds received quantity or batch is not releasable")
}

// TotalAvailable sums the remaining active stock for a product at a branch
func (r *BatchRepository) TotalAvailable(ctx context.Context, productID, branchID string) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(current_stock), 0) FROM inventory_batches
		WHERE product_id = $1 AND branch_id = $2 AND status = 'active'
	`
	if err := r.db.GetContext(ctx, &total, query, productID, branchID); err != nil {
		return 0, err
	}
	return total, nil
}

// ExpireDue marks every active batch whose expiry date has passed as expired
// and returns them. Running the sweep twice over the same instant is a no-op
// because the status guard excludes already expired batches.
func (r *BatchRepository) ExpireDue(ctx context.Context, asOf time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `
		UPDATE inventory_batches
		SET status = 'expired', version = version + 1, updated_at = NOW()
		WHERE status = 'active' AND expiry_date IS NOT NULL AND expiry_date <= $1
		RETURNING *
	`

	rows, err := r.db.QueryxContext(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var batch Batch
		if err := rows.StructScan(&batch); err != nil {
			return nil, err
		}
		batches = append(batches, &batch)
	}
	return batches, rows.Err()
}

// Dispose moves an expired batch to disposed, recording who and why. The
// remaining stock is zeroed; the pre-disposal quantity is kept so the
// disposal can be undone. Only expired batches can be disposed.
func (r *BatchRepository) Dispose(ctx context.Context, batchID, disposedBy, reason string) error {
	query := `
		UPDATE inventory_batches
		SET status = 'disposed', disposed_quantity = current_stock, current_stock = 0,
		    disposed_at = NOW(), disposed_by = $2,
		    disposal_reason = NULLIF($3, ''), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'expired'
	`

	result, err := r.db.ExecContext(ctx, query, batchID, disposedBy, reason)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	batch, err := r.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	return errors.InvalidTransition("batch", batch.Status, BatchStatusDisposed)
}

// UndoDisposal reverses a disposal, restoring the pre-disposal stock and
// returning the batch to active. The next expiry sweep will re-expire it if
// the expiry date has passed.
func (r *BatchRepository) UndoDisposal(ctx context.Context, batchID string) error {
	query := `
		UPDATE inventory_batches
		SET status = 'active', current_stock = COALESCE(disposed_quantity, 0),
		    disposed_quantity = NULL, disposed_at = NULL, disposed_by = NULL,
		    disposal_reason = NULL, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'disposed'
	`

	result, err := r.db.ExecContext(ctx, query, batchID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	batch, err := r.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	return errors.InvalidTransition("batch", batch.Status, BatchStatusActive)
}

// HasActiveAllocations reports whether the batch still backs an in-flight
// transfer. Disposal is blocked while any approved or shipped transfer holds
// an allocation against the batch.
func (r *BatchRepository) HasActiveAllocations(ctx context.Context, batchID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM transfer_batch_allocations a
			JOIN transfer_items i ON i.id = a.transfer_item_id
			JOIN transfer_requests t ON t.id = i.transfer_id
			WHERE a.batch_id = $1 AND t.status IN ('approved', 'shipped')
		)
	`
	if err := r.db.GetContext(ctx, &exists, query, batchID); err != nil {
		return false, err
	}
	return exists, nil
}

// GetExpiring lists active batches at a branch expiring within the window
func (r *BatchRepository) GetExpiring(ctx context.Context, branchID string, within time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM inventory_batches
		WHERE branch_id = $1 AND status = 'active'
		  AND expiry_date IS NOT NULL AND expiry_date <= $2
		ORDER BY expiry_date ASC
	`
	if err := r.db.SelectContext(ctx, &batches, query, branchID, within); err != nil {
		return nil, err
	}
	return batches, nil
}
