package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
)

// Transfer statuses
const (
	TransferStatusPending   = "pending"
	TransferStatusApproved  = "approved"
	TransferStatusRejected  = "rejected"
	TransferStatusShipped   = "shipped"
	TransferStatusReceived  = "received"
	TransferStatusCancelled = "cancelled"
)

// Transfer priorities
const (
	TransferPriorityNormal    = "normal"
	TransferPriorityEmergency = "emergency"
)

// TransferRequest represents an inter-branch stock transfer
type TransferRequest struct {
	ID             string    `db:"id" json:"id"`
	TransferNumber string    `db:"transfer_number" json:"transfer_number"`
	FromBranchID   string    `db:"from_branch_id" json:"from_branch_id"`
	ToBranchID     string    `db:"to_branch_id" json:"to_branch_id"`
	Status         string    `db:"status" json:"status"`
	Priority       string    `db:"priority" json:"priority"`
	RequestedBy    string    `db:"requested_by" json:"requested_by"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	Items []*TransferItem `db:"-" json:"items,omitempty"`
}

// TransferItem is one product line on a transfer
type TransferItem struct {
	ID                string `db:"id" json:"id"`
	TransferID        string `db:"transfer_id" json:"transfer_id"`
	ProductID         string `db:"product_id" json:"product_id"`
	RequestedQuantity int    `db:"requested_quantity" json:"requested_quantity"`

	Allocations []*BatchAllocation `db:"-" json:"allocations,omitempty"`
}

// BatchAllocation records which source batch covers what share of an item.
// Allocations are written at approval time and consumed at receipt.
type BatchAllocation struct {
	ID             string `db:"id" json:"id"`
	TransferItemID string `db:"transfer_item_id" json:"transfer_item_id"`
	BatchID        string `db:"batch_id" json:"batch_id"`
	Quantity       int    `db:"quantity" json:"quantity"`
}

// StatusHistory is one entry in a transfer's audit trail
type StatusHistory struct {
	ID         string    `db:"id" json:"id"`
	TransferID string    `db:"transfer_id" json:"transfer_id"`
	FromStatus *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TransferRepository handles transfer persistence
type TransferRepository struct {
	db *database.DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *database.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// NextTransferNumber issues a unique human-readable transfer number
func (r *TransferRepository) NextTransferNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('transfer_number_seq')`); err != nil {
		return "", err
	}
	return fmt.Sprintf("TR-%06d", seq), nil
}

// CreateTx inserts the transfer, its items, and the initial history entry
// inside the given transaction.
func (r *TransferRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, transfer *TransferRequest) error {
	if transfer.ID == "" {
		transfer.ID = uuid.New().String()
	}
	if transfer.Status == "" {
		transfer.Status = TransferStatusPending
	}
	if transfer.Priority == "" {
		transfer.Priority = TransferPriorityNormal
	}

	query := `
		INSERT INTO transfer_requests (
			id, transfer_number, from_branch_id, to_branch_id, status,
			priority, requested_by, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRowxContext(ctx, query,
		transfer.ID, transfer.TransferNumber, transfer.FromBranchID,
		transfer.ToBranchID, transfer.Status, transfer.Priority,
		transfer.RequestedBy, transfer.Notes,
	).Scan(&transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range transfer.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.TransferID = transfer.ID

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_items (id, transfer_id, product_id, requested_quantity)
			VALUES ($1, $2, $3, $4)
		`, item.ID, item.TransferID, item.ProductID, item.RequestedQuantity)
		if err != nil {
			return err
		}
	}

	return r.insertHistoryTx(ctx, tx, transfer.ID, nil, transfer.Status, transfer.RequestedBy, transfer.Notes)
}

// GetByID loads a transfer with its items and allocations
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*TransferRequest, error) {
	var transfer TransferRequest
	query := `SELECT * FROM transfer_requests WHERE id = $1`
	if err := r.db.GetContext(ctx, &transfer, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("transfer")
		}
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &transfer.Items, `
		SELECT * FROM transfer_items WHERE transfer_id = $1 ORDER BY id
	`, id); err != nil {
		return nil, err
	}

	for _, item := range transfer.Items {
		if err := r.db.SelectContext(ctx, &item.Allocations, `
			SELECT * FROM transfer_batch_allocations WHERE transfer_item_id = $1 ORDER BY id
		`, item.ID); err != nil {
			return nil, err
		}
	}

	return &transfer, nil
}

// ListByBranch lists transfers where the branch is sender or receiver,
// newest first, optionally filtered by status.
func (r *TransferRepository) ListByBranch(ctx context.Context, branchID, status string) ([]*TransferRequest, error) {
	var transfers []*TransferRequest
	if status != "" {
		query := `
			SELECT * FROM transfer_requests
			WHERE (from_branch_id = $1 OR to_branch_id = $1) AND status = $2
			ORDER BY created_at DESC
		`
		if err := r.db.SelectContext(ctx, &transfers, query, branchID, status); err != nil {
			return nil, err
		}
		return transfers, nil
	}

	query := `
		SELECT * FROM transfer_requests
		WHERE from_branch_id = $1 OR to_branch_id = $1
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &transfers, query, branchID); err != nil {
		return nil, err
	}
	return transfers, nil
}

// UpdateStatusTx moves a transfer between statuses with a guard on the
// current status, and writes the history entry in the same transaction. A
// zero-row update means another actor won the race.
func (r *TransferRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, transferID, fromStatus, toStatus, changedBy string, notes *string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE transfer_requests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, transferID, fromStatus, toStatus)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		return errors.ConcurrentConflict("transfer", transferID)
	}

	return r.insertHistoryTx(ctx, tx, transferID, &fromStatus, toStatus, changedBy, notes)
}

func (r *TransferRepository) insertHistoryTx(ctx context.Context, tx *sqlx.Tx, transferID string, fromStatus *string, toStatus, changedBy string, notes *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfer_status_history (id, transfer_id, from_status, to_status, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), transferID, fromStatus, toStatus, changedBy, notes)
	return err
}

// InsertAllocationsTx persists the batch allocations computed at approval
func (r *TransferRepository) InsertAllocationsTx(ctx context.Context, tx *sqlx.Tx, allocations []*BatchAllocation) error {
	for _, alloc := range allocations {
		if alloc.ID == "" {
			alloc.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_batch_allocations (id, transfer_item_id, batch_id, quantity)
			VALUES ($1, $2, $3, $4)
		`, alloc.ID, alloc.TransferItemID, alloc.BatchID, alloc.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateItemQuantityTx trims an item's requested quantity. Used by emergency
// transfers when the source cannot fully cover the request.
func (r *TransferRepository) UpdateItemQuantityTx(ctx context.Context, tx *sqlx.Tx, itemID string, quantity int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transfer_items SET requested_quantity = $2 WHERE id = $1
	`, itemID, quantity)
	return err
}

// DeleteItemTx removes an item the source branch cannot serve at all
func (r *TransferRepository) DeleteItemTx(ctx context.Context, tx *sqlx.Tx, itemID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM transfer_items WHERE id = $1`, itemID)
	return err
}

// GetStatusHistory returns the audit trail for a transfer, oldest first
func (r *TransferRepository) GetStatusHistory(ctx context.Context, transferID string) ([]*StatusHistory, error) {
	var history []*StatusHistory
	query := `
		SELECT * FROM transfer_status_history
		WHERE transfer_id = $1
		ORDER BY created_at ASC
	`
	if err := r.db.SelectContext(ctx, &history, query, transferID); err != nil {
		return nil, err
	}
	return history, nil
}
