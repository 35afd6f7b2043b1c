package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freshmart/freshmart-backend/pkg/database"
)

// Movement types
const (
	MovementReceived         = "received"
	MovementSale             = "sale"
	MovementTransferOut      = "transfer_out"
	MovementTransferIn       = "transfer_in"
	MovementReleased         = "released"
	MovementDisposed         = "disposed"
	MovementDisposalReversed = "disposal_reversed"
)

// StockMovement is one audited change to a batch's stock. Quantity is
// positive for inbound movements and negative for outbound ones.
type StockMovement struct {
	ID           string    `db:"id" json:"id"`
	BatchID      string    `db:"batch_id" json:"batch_id"`
	ProductID    string    `db:"product_id" json:"product_id"`
	BranchID     string    `db:"branch_id" json:"branch_id"`
	MovementType string    `db:"movement_type" json:"movement_type"`
	Quantity     int       `db:"quantity" json:"quantity"`
	Reference    *string   `db:"reference" json:"reference,omitempty"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
	PerformedBy  string    `db:"performed_by" json:"performed_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// MovementRepository handles the stock movement audit trail
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Create records a movement
func (r *MovementRepository) Create(ctx context.Context, movement *StockMovement) error {
	return r.create(ctx, r.db, movement)
}

// CreateTx records a movement inside an existing transaction
func (r *MovementRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, movement *StockMovement) error {
	return r.create(ctx, tx, movement)
}

func (r *MovementRepository) create(ctx context.Context, q sqlx.ExtContext, movement *StockMovement) error {
	if movement.ID == "" {
		movement.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (
			id, batch_id, product_id, branch_id, movement_type,
			quantity, reference, notes, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	row := q.QueryRowxContext(ctx, query,
		movement.ID, movement.BatchID, movement.ProductID, movement.BranchID,
		movement.MovementType, movement.Quantity, movement.Reference,
		movement.Notes, movement.PerformedBy,
	)
	return row.Scan(&movement.CreatedAt)
}

// ListByBatch lists movements for a batch, oldest first
func (r *MovementRepository) ListByBatch(ctx context.Context, batchID string) ([]*StockMovement, error) {
	var movements []*StockMovement
	query := `
		SELECT * FROM stock_movements
		WHERE batch_id = $1
		ORDER BY created_at ASC
	`
	if err := r.db.SelectContext(ctx, &movements, query, batchID); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListByProduct lists movements for a product at a branch within a window,
// newest first.
func (r *MovementRepository) ListByProduct(ctx context.Context, productID, branchID string, from, to time.Time) ([]*StockMovement, error) {
	var movements []*StockMovement
	query := `
		SELECT * FROM stock_movements
		WHERE product_id = $1 AND branch_id = $2
		  AND created_at >= $3 AND created_at < $4
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &movements, query, productID, branchID, from, to); err != nil {
		return nil, err
	}
	return movements, nil
}
