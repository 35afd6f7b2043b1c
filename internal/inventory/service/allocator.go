package service

import (
	"context"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/errors"
)

// PlannedDeduction is one batch's share of an allocation plan
type PlannedDeduction struct {
	Batch    *repository.Batch `json:"batch"`
	Quantity int               `json:"quantity"`
}

// AllocationPlan is the result of planning a deduction across batches.
// Deductions are ordered oldest batch first.
type AllocationPlan struct {
	Requested      int                 `json:"requested"`
	Allocated      int                 `json:"allocated"`
	Shortfall      int                 `json:"shortfall"`
	FullyFulfilled bool                `json:"fully_fulfilled"`
	Deductions     []*PlannedDeduction `json:"deductions"`
}

// FifoAllocator plans deductions across the batches of a product at a
// branch, consuming the oldest stock first.
type FifoAllocator struct {
	batches *repository.BatchRepository
}

// NewFifoAllocator creates a new FIFO allocator
func NewFifoAllocator(batches *repository.BatchRepository) *FifoAllocator {
	return &FifoAllocator{batches: batches}
}

// Plan loads the available batches for a product at a branch and plans a
// deduction of the requested quantity. Planning is read-only: nothing is
// reserved until the caller commits the plan.
func (a *FifoAllocator) Plan(ctx context.Context, productID, branchID string, quantity int) (*AllocationPlan, error) {
	if quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}

	batches, err := a.batches.GetAvailableByProduct(ctx, productID, branchID)
	if err != nil {
		return nil, err
	}

	return PlanFromBatches(batches, quantity), nil
}

// PlanFromBatches walks batches in the given order, taking from each until
// the requested quantity is covered. Batches with no available stock are
// skipped. The caller is responsible for ordering batches oldest first.
func PlanFromBatches(batches []*repository.Batch, quantity int) *AllocationPlan {
	plan := &AllocationPlan{Requested: quantity}

	remaining := quantity
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		if !batch.Available() {
			continue
		}

		take := batch.CurrentStock
		if take > remaining {
			take = remaining
		}

		plan.Deductions = append(plan.Deductions, &PlannedDeduction{
			Batch:    batch,
			Quantity: take,
		})
		plan.Allocated += take
		remaining -= take
	}

	plan.Shortfall = remaining
	plan.FullyFulfilled = remaining == 0
	return plan
}
