package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshmart/freshmart-backend/internal/inventory/events"
	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/clock"
	"github.com/freshmart/freshmart-backend/pkg/config"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
	"github.com/freshmart/freshmart-backend/pkg/messaging"
)

// StockService handles batch receipt and stock deduction
type StockService struct {
	batches   *repository.BatchRepository
	movements *repository.MovementRepository
	branches  *repository.BranchRepository
	committer *fifoCommitter
	publisher *events.Publisher
	clock     clock.Clock
	logger    *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	batches *repository.BatchRepository,
	movements *repository.MovementRepository,
	branches *repository.BranchRepository,
	allocator *FifoAllocator,
	publisher *events.Publisher,
	clk clock.Clock,
	cfg *config.StockConfig,
	log *logger.Logger,
) *StockService {
	componentLog := log.WithComponent("stock-service")
	return &StockService{
		batches:   batches,
		movements: movements,
		branches:  branches,
		committer: newFifoCommitter(batches, allocator, cfg, componentLog),
		publisher: publisher,
		clock:     clk,
		logger:    componentLog,
	}
}

// ReceiveBatchInput is the input for receiving a batch from a supplier
type ReceiveBatchInput struct {
	BatchNumber string          `json:"batch_number" validate:"required,max=100"`
	ProductID   string          `json:"product_id" validate:"required,uuid"`
	BranchID    string          `json:"branch_id" validate:"required,uuid"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// ReceiveBatch records a new batch delivered directly to a branch
func (s *StockService) ReceiveBatch(ctx context.Context, act *actor.Actor, input *ReceiveBatchInput) (*repository.Batch, error) {
	if !act.CanAccessBranch(input.BranchID) {
		return nil, errors.AccessDenied("no access to branch")
	}

	product, err := s.branches.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	if input.ExpiryDate == nil && product.IsPerishable {
		return nil, errors.BadRequest("expiry date is required for perishable products")
	}
	if input.ExpiryDate != nil && !input.ExpiryDate.After(s.clock.Now()) {
		return nil, errors.BadRequest("expiry date must be in the future")
	}

	exists, err := s.batches.ExistsByBatchNumber(ctx, input.BranchID, input.BatchNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Conflict("batch number already exists at this branch")
	}

	batch := &repository.Batch{
		BatchNumber:      input.BatchNumber,
		ProductID:        input.ProductID,
		BranchID:         input.BranchID,
		QuantityReceived: input.Quantity,
		CurrentStock:     input.Quantity,
		UnitCost:         input.UnitCost,
		ExpiryDate:       input.ExpiryDate,
		ReceivedDate:     s.clock.Now(),
		SourceType:       repository.BatchSourceDirect,
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	movement := &repository.StockMovement{
		BatchID:      batch.ID,
		ProductID:    batch.ProductID,
		BranchID:     batch.BranchID,
		MovementType: repository.MovementReceived,
		Quantity:     batch.QuantityReceived,
		PerformedBy:  act.UserID(),
	}
	if err := s.movements.Create(ctx, movement); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("failed to record receipt movement")
	}

	s.publisher.BatchReceived(ctx, batch, act.UserID())

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("product_id", batch.ProductID).
		Str("branch_id", batch.BranchID).
		Int("quantity", batch.QuantityReceived).
		Msg("batch received")

	return batch, nil
}

// DeductInput is the input for a FIFO stock deduction
type DeductInput struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	BranchID  string `json:"branch_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference,omitempty" validate:"max=255"`
}

// DeductForSale removes quantity from a product's stock at a branch,
// consuming the oldest batches first. The deduction is all-or-nothing:
// either every batch in the plan is reserved or nothing changes.
func (s *StockService) DeductForSale(ctx context.Context, act *actor.Actor, input *DeductInput) (*AllocationPlan, error) {
	if !act.CanAccessBranch(input.BranchID) {
		return nil, errors.AccessDenied("no access to branch")
	}

	plan, err := s.committer.commit(ctx, input.ProductID, input.BranchID, input.Quantity)
	if err != nil {
		return nil, err
	}

	deductions := make([]messaging.BatchDeduction, 0, len(plan.Deductions))
	for _, d := range plan.Deductions {
		movement := &repository.StockMovement{
			BatchID:      d.Batch.ID,
			ProductID:    input.ProductID,
			BranchID:     input.BranchID,
			MovementType: repository.MovementSale,
			Quantity:     -d.Quantity,
			PerformedBy:  act.UserID(),
		}
		if input.Reference != "" {
			movement.Reference = &input.Reference
		}
		if err := s.movements.Create(ctx, movement); err != nil {
			s.logger.Warn().Err(err).Str("batch_id", d.Batch.ID).Msg("failed to record sale movement")
		}

		deductions = append(deductions, messaging.BatchDeduction{
			BatchID:  d.Batch.ID,
			Quantity: d.Quantity,
		})
	}

	s.publisher.StockDeducted(ctx, input.ProductID, input.BranchID, input.Quantity,
		"sale", input.Reference, act.UserID(), deductions)

	return plan, nil
}

// StockSummary is the read model for a product's stock at a branch
type StockSummary struct {
	ProductID      string              `json:"product_id"`
	BranchID       string              `json:"branch_id"`
	TotalAvailable int                 `json:"total_available"`
	BatchCount     int                 `json:"batch_count"`
	Batches        []*repository.Batch `json:"batches"`
}

// GetStockSummary returns the available stock for a product at a branch,
// broken down by batch in FIFO order.
func (s *StockService) GetStockSummary(ctx context.Context, act *actor.Actor, productID, branchID string) (*StockSummary, error) {
	if !act.CanAccessBranch(branchID) {
		return nil, errors.AccessDenied("no access to branch")
	}

	batches, err := s.batches.GetAvailableByProduct(ctx, productID, branchID)
	if err != nil {
		return nil, err
	}

	summary := &StockSummary{
		ProductID:  productID,
		BranchID:   branchID,
		BatchCount: len(batches),
		Batches:    batches,
	}
	for _, b := range batches {
		summary.TotalAvailable += b.CurrentStock
	}

	return summary, nil
}

// GetBatch returns a single batch with its movement history
func (s *StockService) GetBatch(ctx context.Context, act *actor.Actor, batchID string) (*repository.Batch, []*repository.StockMovement, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if !act.CanAccessBranch(batch.BranchID) {
		return nil, nil, errors.AccessDenied("no access to branch")
	}

	movements, err := s.movements.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	return batch, movements, nil
}
