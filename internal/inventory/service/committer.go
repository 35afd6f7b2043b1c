package service

import (
	"context"
	"time"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/config"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// fifoCommitter turns FIFO plans into committed reservations. Sales and
// transfer approvals share it so both get identical all-or-nothing and
// retry behavior.
type fifoCommitter struct {
	batches   *repository.BatchRepository
	allocator *FifoAllocator
	cfg       *config.StockConfig
	logger    *logger.Logger
}

func newFifoCommitter(batches *repository.BatchRepository, allocator *FifoAllocator, cfg *config.StockConfig, log *logger.Logger) *fifoCommitter {
	return &fifoCommitter{
		batches:   batches,
		allocator: allocator,
		cfg:       cfg,
		logger:    log,
	}
}

// commit plans and commits a FIFO deduction. Reservations are taken one
// batch at a time; if any batch fails the ones already taken are released
// and the whole plan is retried against fresh data, up to the configured
// number of rounds.
func (c *fifoCommitter) commit(ctx context.Context, productID, branchID string, quantity int) (*AllocationPlan, error) {
	var lastErr error

	for round := 0; round < c.cfg.PlanMaxRounds; round++ {
		plan, err := c.allocator.Plan(ctx, productID, branchID, quantity)
		if err != nil {
			return nil, err
		}
		if !plan.FullyFulfilled {
			return nil, errors.InsufficientStock(productID, branchID, quantity, plan.Allocated)
		}

		err = c.commitPlan(ctx, plan)
		if err == nil {
			return plan, nil
		}
		lastErr = err

		// A concurrent writer moved stock underneath the plan. Any other
		// failure is final.
		if !errors.Is(err, errors.ErrConcurrentConflict) && !errors.Is(err, errors.ErrInsufficientStock) {
			return nil, err
		}

		c.logger.Debug().
			Str("product_id", productID).
			Str("branch_id", branchID).
			Int("round", round+1).
			Msg("replanning deduction after conflict")
	}

	return nil, lastErr
}

// commitPartial commits as much of the requested quantity as the branch can
// cover, never failing on a shortfall. Used by emergency transfers.
func (c *fifoCommitter) commitPartial(ctx context.Context, productID, branchID string, quantity int) (*AllocationPlan, error) {
	var lastErr error

	for round := 0; round < c.cfg.PlanMaxRounds; round++ {
		plan, err := c.allocator.Plan(ctx, productID, branchID, quantity)
		if err != nil {
			return nil, err
		}
		if plan.Allocated == 0 {
			return plan, nil
		}

		err = c.commitPlan(ctx, plan)
		if err == nil {
			return plan, nil
		}
		lastErr = err

		if !errors.Is(err, errors.ErrConcurrentConflict) && !errors.Is(err, errors.ErrInsufficientStock) {
			return nil, err
		}
	}

	return nil, lastErr
}

// commitPlan reserves every deduction in the plan, releasing the ones
// already taken if a later reservation fails.
func (c *fifoCommitter) commitPlan(ctx context.Context, plan *AllocationPlan) error {
	committed := make([]*PlannedDeduction, 0, len(plan.Deductions))

	for _, d := range plan.Deductions {
		if err := c.reserveWithRetry(ctx, d.Batch, d.Quantity); err != nil {
			c.rollback(ctx, committed)
			return err
		}
		committed = append(committed, d)
	}

	return nil
}

// reserveWithRetry retries a single batch reservation on version conflicts,
// re-reading the batch between attempts.
func (c *fifoCommitter) reserveWithRetry(ctx context.Context, batch *repository.Batch, quantity int) error {
	version := batch.Version

	for attempt := 0; attempt < c.cfg.ReserveMaxAttempts; attempt++ {
		err := c.batches.Reserve(ctx, batch.ID, version, quantity)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ErrConcurrentConflict) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReserveBackoff):
		}

		fresh, readErr := c.batches.GetByID(ctx, batch.ID)
		if readErr != nil {
			return readErr
		}
		if fresh.CurrentStock < quantity || fresh.Status != repository.BatchStatusActive {
			return errors.InsufficientStock(fresh.ProductID, fresh.BranchID, quantity, fresh.CurrentStock)
		}
		version = fresh.Version
	}

	return errors.ConcurrentConflict("batch", batch.ID)
}

// rollback releases already committed deductions after a partial failure
func (c *fifoCommitter) rollback(ctx context.Context, committed []*PlannedDeduction) {
	for _, d := range committed {
		if err := c.batches.Release(ctx, d.Batch.ID, d.Quantity); err != nil {
			c.logger.Error().Err(err).
				Str("batch_id", d.Batch.ID).
				Int("quantity", d.Quantity).
				Msg("failed to roll back reservation")
		}
	}
}
