package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/freshmart/freshmart-backend/internal/inventory/events"
	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/clock"
	"github.com/freshmart/freshmart-backend/pkg/config"
	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// transitions maps each transfer status to the statuses reachable from it.
// Rejected, received, and cancelled are terminal.
var transitions = map[string][]string{
	repository.TransferStatusPending:   {repository.TransferStatusApproved, repository.TransferStatusRejected, repository.TransferStatusCancelled},
	repository.TransferStatusApproved:  {repository.TransferStatusShipped, repository.TransferStatusCancelled},
	repository.TransferStatusShipped:   {repository.TransferStatusReceived, repository.TransferStatusCancelled},
	repository.TransferStatusRejected:  {},
	repository.TransferStatusReceived:  {},
	repository.TransferStatusCancelled: {},
}

func canTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransferService handles the inter-branch transfer workflow
type TransferService struct {
	db        *database.DB
	transfers *repository.TransferRepository
	batches   *repository.BatchRepository
	movements *repository.MovementRepository
	branches  *repository.BranchRepository
	committer *fifoCommitter
	publisher *events.Publisher
	clock     clock.Clock
	logger    *logger.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(
	db *database.DB,
	transfers *repository.TransferRepository,
	batches *repository.BatchRepository,
	movements *repository.MovementRepository,
	branches *repository.BranchRepository,
	allocator *FifoAllocator,
	publisher *events.Publisher,
	clk clock.Clock,
	cfg *config.StockConfig,
	log *logger.Logger,
) *TransferService {
	componentLog := log.WithComponent("transfer-service")
	return &TransferService{
		db:        db,
		transfers: transfers,
		batches:   batches,
		movements: movements,
		branches:  branches,
		committer: newFifoCommitter(batches, allocator, cfg, componentLog),
		publisher: publisher,
		clock:     clk,
		logger:    componentLog,
	}
}

// TransferItemInput is one requested product line
type TransferItemInput struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateTransferInput is the input for requesting a transfer
type CreateTransferInput struct {
	FromBranchID string              `json:"from_branch_id" validate:"required,uuid"`
	ToBranchID   string              `json:"to_branch_id" validate:"required,uuid"`
	Priority     string              `json:"priority,omitempty" validate:"omitempty,oneof=normal emergency"`
	Notes        string              `json:"notes,omitempty" validate:"max=1000"`
	Items        []TransferItemInput `json:"items" validate:"required,min=1,dive"`

	// AllowPartial only applies to emergency transfers. When set, items the
	// source cannot fully cover are trimmed instead of failing the request.
	AllowPartial bool `json:"allow_partial,omitempty"`
}

// Create requests a transfer of stock from one branch to another. The
// request starts pending; no stock moves until the source branch approves.
func (s *TransferService) Create(ctx context.Context, act *actor.Actor, input *CreateTransferInput) (*repository.TransferRequest, error) {
	if !act.CanAccessBranch(input.ToBranchID) {
		return nil, errors.AccessDenied("no access to requesting branch")
	}
	if input.FromBranchID == input.ToBranchID {
		return nil, errors.BadRequest("source and destination branches must differ")
	}

	for _, branchID := range []string{input.FromBranchID, input.ToBranchID} {
		branch, err := s.branches.GetByID(ctx, branchID)
		if err != nil {
			return nil, err
		}
		if !branch.IsActive {
			return nil, errors.BadRequest("branch is not active")
		}
	}

	transfer := &repository.TransferRequest{
		FromBranchID: input.FromBranchID,
		ToBranchID:   input.ToBranchID,
		Priority:     input.Priority,
		RequestedBy:  act.UserID(),
	}
	if input.Notes != "" {
		notes := input.Notes
		transfer.Notes = &notes
	}

	for _, item := range input.Items {
		if _, err := s.branches.GetProduct(ctx, item.ProductID); err != nil {
			return nil, err
		}
		transfer.Items = append(transfer.Items, &repository.TransferItem{
			ProductID:         item.ProductID,
			RequestedQuantity: item.Quantity,
		})
	}

	number, err := s.transfers.NextTransferNumber(ctx)
	if err != nil {
		return nil, err
	}
	transfer.TransferNumber = number

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return s.transfers.CreateTx(ctx, tx, transfer)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.TransferStatusChanged(ctx, transfer, "", act.UserID(), input.Notes)

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Str("transfer_number", transfer.TransferNumber).
		Str("from_branch", transfer.FromBranchID).
		Str("to_branch", transfer.ToBranchID).
		Int("items", len(transfer.Items)).
		Msg("transfer requested")

	return transfer, nil
}

// Approve reserves source stock for every item and moves the transfer to
// approved. Reservation is all-or-nothing across items: a shortfall on any
// item releases everything taken so far and fails the approval.
func (s *TransferService) Approve(ctx context.Context, act *actor.Actor, transferID, notes string) (*repository.TransferRequest, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !act.CanAccessBranch(transfer.FromBranchID) {
		return nil, errors.AccessDenied("only the source branch can approve")
	}
	if !canTransition(transfer.Status, repository.TransferStatusApproved) {
		return nil, errors.InvalidTransition("transfer", transfer.Status, repository.TransferStatusApproved)
	}

	// Reserve stock per item. Committed plans are tracked so a failure on a
	// later item can undo the earlier ones.
	var committedPlans []*AllocationPlan
	var allocations []*repository.BatchAllocation

	for _, item := range transfer.Items {
		plan, err := s.committer.commit(ctx, item.ProductID, transfer.FromBranchID, item.RequestedQuantity)
		if err != nil {
			s.releasePlans(ctx, committedPlans)
			return nil, err
		}
		committedPlans = append(committedPlans, plan)

		for _, d := range plan.Deductions {
			allocations = append(allocations, &repository.BatchAllocation{
				TransferItemID: item.ID,
				BatchID:        d.Batch.ID,
				Quantity:       d.Quantity,
			})
		}
	}

	fromStatus := transfer.Status
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.transfers.InsertAllocationsTx(ctx, tx, allocations); err != nil {
			return err
		}
		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		return s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, fromStatus, repository.TransferStatusApproved, act.UserID(), notesPtr)
	})
	if err != nil {
		s.releasePlans(ctx, committedPlans)
		return nil, err
	}

	for _, plan := range committedPlans {
		for _, d := range plan.Deductions {
			s.recordMovement(ctx, d.Batch.ID, d.Batch.ProductID, transfer.FromBranchID,
				repository.MovementTransferOut, -d.Quantity, transfer.TransferNumber, act.UserID())
		}
	}

	transfer.Status = repository.TransferStatusApproved
	s.publisher.TransferStatusChanged(ctx, transfer, fromStatus, act.UserID(), notes)

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Int("allocations", len(allocations)).
		Msg("transfer approved")

	return transfer, nil
}

// Reject declines a pending transfer without touching stock
func (s *TransferService) Reject(ctx context.Context, act *actor.Actor, transferID, notes string) (*repository.TransferRequest, error) {
	return s.simpleTransition(ctx, act, transferID, repository.TransferStatusRejected, notes, func(t *repository.TransferRequest) error {
		if !act.CanAccessBranch(t.FromBranchID) {
			return errors.AccessDenied("only the source branch can reject")
		}
		return nil
	})
}

// Ship marks an approved transfer as in transit
func (s *TransferService) Ship(ctx context.Context, act *actor.Actor, transferID, notes string) (*repository.TransferRequest, error) {
	return s.simpleTransition(ctx, act, transferID, repository.TransferStatusShipped, notes, func(t *repository.TransferRequest) error {
		if !act.CanAccessBranch(t.FromBranchID) {
			return errors.AccessDenied("only the source branch can ship")
		}
		return nil
	})
}

// Receive completes a shipped transfer. New batches are created at the
// destination, one per source allocation, carrying over the source lot
// number, expiry, and unit cost so traceability survives the move.
func (s *TransferService) Receive(ctx context.Context, act *actor.Actor, transferID, notes string) (*repository.TransferRequest, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !act.CanAccessBranch(transfer.ToBranchID) {
		return nil, errors.AccessDenied("only the destination branch can receive")
	}
	if !canTransition(transfer.Status, repository.TransferStatusReceived) {
		return nil, errors.InvalidTransition("transfer", transfer.Status, repository.TransferStatusReceived)
	}

	fromStatus := transfer.Status
	var created []*repository.Batch

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, item := range transfer.Items {
			for _, alloc := range item.Allocations {
				source, err := s.batches.GetByID(ctx, alloc.BatchID)
				if err != nil {
					return err
				}

				batch := &repository.Batch{
					BatchNumber:      source.BatchNumber,
					ProductID:        source.ProductID,
					BranchID:         transfer.ToBranchID,
					QuantityReceived: alloc.Quantity,
					CurrentStock:     alloc.Quantity,
					UnitCost:         source.UnitCost,
					ExpiryDate:       source.ExpiryDate,
					ReceivedDate:     s.clock.Now(),
					SourceType:       repository.BatchSourceTransfer,
					SourceTransferID: &transfer.ID,
				}
				if err := s.batches.CreateTx(ctx, tx, batch); err != nil {
					return err
				}
				created = append(created, batch)
			}
		}

		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		return s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, fromStatus, repository.TransferStatusReceived, act.UserID(), notesPtr)
	})
	if err != nil {
		return nil, err
	}

	for _, batch := range created {
		s.recordMovement(ctx, batch.ID, batch.ProductID, batch.BranchID,
			repository.MovementTransferIn, batch.QuantityReceived, transfer.TransferNumber, act.UserID())
		s.publisher.BatchReceived(ctx, batch, act.UserID())
	}

	transfer.Status = repository.TransferStatusReceived
	s.publisher.TransferStatusChanged(ctx, transfer, fromStatus, act.UserID(), notes)

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Int("batches_created", len(created)).
		Msg("transfer received")

	return transfer, nil
}

// Cancel aborts a transfer that has not been received. Cancelling after
// approval returns the reserved stock to its source batches; the goods never
// left or are assumed returned.
func (s *TransferService) Cancel(ctx context.Context, act *actor.Actor, transferID, notes string) (*repository.TransferRequest, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !act.CanAccessBranch(transfer.FromBranchID) && !act.CanAccessBranch(transfer.ToBranchID) {
		return nil, errors.AccessDenied("no access to transfer")
	}
	if !canTransition(transfer.Status, repository.TransferStatusCancelled) {
		return nil, errors.InvalidTransition("transfer", transfer.Status, repository.TransferStatusCancelled)
	}

	fromStatus := transfer.Status

	// Stock was reserved at approval, so anything past pending returns it in
	// the same transaction as the status change. A release failure aborts the
	// cancellation instead of leaving the stock stranded.
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if fromStatus != repository.TransferStatusPending {
			for _, item := range transfer.Items {
				for _, alloc := range item.Allocations {
					if err := s.batches.ReleaseTx(ctx, tx, alloc.BatchID, alloc.Quantity); err != nil {
						return err
					}
				}
			}
		}

		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		return s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, fromStatus, repository.TransferStatusCancelled, act.UserID(), notesPtr)
	})
	if err != nil {
		return nil, err
	}

	if fromStatus != repository.TransferStatusPending {
		for _, item := range transfer.Items {
			for _, alloc := range item.Allocations {
				s.recordMovement(ctx, alloc.BatchID, item.ProductID, transfer.FromBranchID,
					repository.MovementReleased, alloc.Quantity, transfer.TransferNumber, act.UserID())
				s.publisher.StockReleased(ctx, alloc.BatchID, item.ProductID, transfer.FromBranchID,
					alloc.Quantity, "transfer cancelled")
			}
		}
	}

	transfer.Status = repository.TransferStatusCancelled
	s.publisher.TransferStatusChanged(ctx, transfer, fromStatus, act.UserID(), notes)

	return transfer, nil
}

// EmergencyTransfer creates and approves a transfer in one step. With
// AllowPartial set, item quantities are trimmed to what the source can
// actually cover and an item the source cannot serve at all is dropped;
// without it a shortfall on any item fails the whole request.
func (s *TransferService) EmergencyTransfer(ctx context.Context, act *actor.Actor, input *CreateTransferInput) (*repository.TransferRequest, error) {
	input.Priority = repository.TransferPriorityEmergency

	transfer, err := s.Create(ctx, act, input)
	if err != nil {
		return nil, err
	}

	var committedPlans []*AllocationPlan
	var allocations []*repository.BatchAllocation
	trimmed := make(map[string]int)
	var dropped []string

	for _, item := range transfer.Items {
		var plan *AllocationPlan
		if input.AllowPartial {
			plan, err = s.committer.commitPartial(ctx, item.ProductID, transfer.FromBranchID, item.RequestedQuantity)
		} else {
			plan, err = s.committer.commit(ctx, item.ProductID, transfer.FromBranchID, item.RequestedQuantity)
		}
		if err != nil {
			s.releasePlans(ctx, committedPlans)
			return nil, err
		}
		committedPlans = append(committedPlans, plan)

		switch {
		case plan.Allocated == 0:
			dropped = append(dropped, item.ID)
		case plan.Allocated < item.RequestedQuantity:
			trimmed[item.ID] = plan.Allocated
		}
		for _, d := range plan.Deductions {
			allocations = append(allocations, &repository.BatchAllocation{
				TransferItemID: item.ID,
				BatchID:        d.Batch.ID,
				Quantity:       d.Quantity,
			})
		}
	}

	if len(allocations) == 0 {
		s.releasePlans(ctx, committedPlans)
		return nil, errors.InsufficientStock("", transfer.FromBranchID, 0, 0)
	}

	fromStatus := transfer.Status
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, itemID := range dropped {
			if err := s.transfers.DeleteItemTx(ctx, tx, itemID); err != nil {
				return err
			}
		}
		for itemID, quantity := range trimmed {
			if err := s.transfers.UpdateItemQuantityTx(ctx, tx, itemID, quantity); err != nil {
				return err
			}
		}
		if err := s.transfers.InsertAllocationsTx(ctx, tx, allocations); err != nil {
			return err
		}
		note := "emergency transfer, auto-approved"
		return s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, fromStatus, repository.TransferStatusApproved, act.UserID(), &note)
	})
	if err != nil {
		s.releasePlans(ctx, committedPlans)
		return nil, err
	}

	for _, plan := range committedPlans {
		for _, d := range plan.Deductions {
			s.recordMovement(ctx, d.Batch.ID, d.Batch.ProductID, transfer.FromBranchID,
				repository.MovementTransferOut, -d.Quantity, transfer.TransferNumber, act.UserID())
		}
	}

	transfer.Status = repository.TransferStatusApproved
	s.publisher.TransferStatusChanged(ctx, transfer, fromStatus, act.UserID(), "emergency transfer")

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Int("trimmed_items", len(trimmed)).
		Msg("emergency transfer approved")

	return s.transfers.GetByID(ctx, transfer.ID)
}

// Get loads a transfer with its items, allocations, and status history
func (s *TransferService) Get(ctx context.Context, act *actor.Actor, transferID string) (*repository.TransferRequest, []*repository.StatusHistory, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	if !act.CanAccessBranch(transfer.FromBranchID) && !act.CanAccessBranch(transfer.ToBranchID) {
		return nil, nil, errors.AccessDenied("no access to transfer")
	}

	history, err := s.transfers.GetStatusHistory(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}

	return transfer, history, nil
}

// List lists transfers involving a branch
func (s *TransferService) List(ctx context.Context, act *actor.Actor, branchID, status string) ([]*repository.TransferRequest, error) {
	if !act.CanAccessBranch(branchID) {
		return nil, errors.AccessDenied("no access to branch")
	}
	return s.transfers.ListByBranch(ctx, branchID, status)
}

// simpleTransition handles transitions that change status only
func (s *TransferService) simpleTransition(ctx context.Context, act *actor.Actor, transferID, toStatus, notes string, authorize func(*repository.TransferRequest) error) (*repository.TransferRequest, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if err := authorize(transfer); err != nil {
		return nil, err
	}
	if !canTransition(transfer.Status, toStatus) {
		return nil, errors.InvalidTransition("transfer", transfer.Status, toStatus)
	}

	fromStatus := transfer.Status
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		return s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, fromStatus, toStatus, act.UserID(), notesPtr)
	})
	if err != nil {
		return nil, err
	}

	transfer.Status = toStatus
	s.publisher.TransferStatusChanged(ctx, transfer, fromStatus, act.UserID(), notes)

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Str("from_status", fromStatus).
		Str("to_status", toStatus).
		Msg("transfer status changed")

	return transfer, nil
}

func (s *TransferService) releasePlans(ctx context.Context, plans []*AllocationPlan) {
	for _, plan := range plans {
		s.committer.rollback(ctx, plan.Deductions)
	}
}

func (s *TransferService) recordMovement(ctx context.Context, batchID, productID, branchID, movementType string, quantity int, reference, performedBy string) {
	movement := &repository.StockMovement{
		BatchID:      batchID,
		ProductID:    productID,
		BranchID:     branchID,
		MovementType: movementType,
		Quantity:     quantity,
		PerformedBy:  performedBy,
	}
	if reference != "" {
		movement.Reference = &reference
	}
	if err := s.movements.Create(ctx, movement); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batchID).Str("movement_type", movementType).Msg("failed to record movement")
	}
}
