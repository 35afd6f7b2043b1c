package service

import (
	"context"
	"time"

	"github.com/freshmart/freshmart-backend/internal/inventory/events"
	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/clock"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// ExpiryService handles the batch expiry and disposal lifecycle
type ExpiryService struct {
	batches   *repository.BatchRepository
	movements *repository.MovementRepository
	publisher *events.Publisher
	clock     clock.Clock
	logger    *logger.Logger
}

// NewExpiryService creates a new expiry service
func NewExpiryService(
	batches *repository.BatchRepository,
	movements *repository.MovementRepository,
	publisher *events.Publisher,
	clk clock.Clock,
	log *logger.Logger,
) *ExpiryService {
	return &ExpiryService{
		batches:   batches,
		movements: movements,
		publisher: publisher,
		clock:     clk,
		logger:    log.WithComponent("expiry-service"),
	}
}

// SweepExpired marks every active batch past its expiry date as expired and
// returns how many were swept. The sweep is idempotent: a batch already
// expired is never swept again, and undoing a disposal puts the batch back
// in the sweep's reach.
func (s *ExpiryService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.batches.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	for _, batch := range expired {
		s.publisher.BatchExpired(ctx, batch)
	}

	if len(expired) > 0 {
		s.logger.Info().Int("count", len(expired)).Msg("expiry sweep marked batches expired")
	}

	return len(expired), nil
}

// Dispose writes off an expired batch: remaining stock drops to zero and the
// pre-disposal quantity is kept for a later undo. A batch still backing an
// in-flight transfer cannot be disposed until that transfer settles.
func (s *ExpiryService) Dispose(ctx context.Context, act *actor.Actor, batchID, reason string) (*repository.Batch, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !act.CanAccessBranch(batch.BranchID) {
		return nil, errors.AccessDenied("no access to branch")
	}

	// Nothing to write off; also makes a repeated disposal idempotent
	if batch.CurrentStock == 0 {
		return batch, nil
	}

	inFlight, err := s.batches.HasActiveAllocations(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, errors.Conflict("batch backs an in-flight transfer")
	}

	if err := s.batches.Dispose(ctx, batchID, act.UserID(), reason); err != nil {
		return nil, err
	}

	movement := &repository.StockMovement{
		BatchID:      batch.ID,
		ProductID:    batch.ProductID,
		BranchID:     batch.BranchID,
		MovementType: repository.MovementDisposed,
		Quantity:     -batch.CurrentStock,
		PerformedBy:  act.UserID(),
	}
	if reason != "" {
		movement.Notes = &reason
	}
	if err := s.movements.Create(ctx, movement); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("failed to record disposal movement")
	}

	s.publisher.BatchDisposed(ctx, batch, act.UserID(), reason)

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("branch_id", batch.BranchID).
		Int("quantity", batch.CurrentStock).
		Msg("batch disposed")

	return s.batches.GetByID(ctx, batchID)
}

// UndoDisposal reverses a disposal, restoring the pre-disposal stock and the
// active status. Destructive to the audit trail's finality, so it requires the
// inventory.disposal.undo permission. If the expiry date is still in the past
// the next sweep re-expires the batch.
func (s *ExpiryService) UndoDisposal(ctx context.Context, act *actor.Actor, batchID string) (*repository.Batch, error) {
	if !act.HasPermission("inventory.disposal.undo") {
		return nil, errors.AccessDenied("missing permission inventory.disposal.undo")
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !act.CanAccessBranch(batch.BranchID) {
		return nil, errors.AccessDenied("no access to branch")
	}

	if err := s.batches.UndoDisposal(ctx, batchID); err != nil {
		return nil, err
	}

	restored, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	if restored.CurrentStock > 0 {
		movement := &repository.StockMovement{
			BatchID:      restored.ID,
			ProductID:    restored.ProductID,
			BranchID:     restored.BranchID,
			MovementType: repository.MovementDisposalReversed,
			Quantity:     restored.CurrentStock,
			PerformedBy:  act.UserID(),
		}
		if err := s.movements.Create(ctx, movement); err != nil {
			s.logger.Warn().Err(err).Str("batch_id", restored.ID).Msg("failed to record disposal reversal movement")
		}
	}

	s.publisher.BatchDisposalReversed(ctx, restored, act.UserID())

	s.logger.Info().
		Str("batch_id", restored.ID).
		Str("branch_id", restored.BranchID).
		Int("restored_stock", restored.CurrentStock).
		Msg("batch disposal reversed")

	return restored, nil
}

// ListExpired lists the expired, not yet disposed batches at a branch
func (s *ExpiryService) ListExpired(ctx context.Context, act *actor.Actor, branchID string) ([]*repository.Batch, error) {
	if !act.CanAccessBranch(branchID) {
		return nil, errors.AccessDenied("no access to branch")
	}
	return s.batches.ListByBranch(ctx, branchID, repository.BatchStatusExpired)
}

// ListExpiring lists active batches at a branch expiring within the window
func (s *ExpiryService) ListExpiring(ctx context.Context, act *actor.Actor, branchID string, window time.Duration) ([]*repository.Batch, error) {
	if !act.CanAccessBranch(branchID) {
		return nil, errors.AccessDenied("no access to branch")
	}
	return s.batches.GetExpiring(ctx, branchID, s.clock.Now().Add(window))
}
