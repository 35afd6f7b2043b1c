package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/internal/inventory/service"
)

func datePtr(t time.Time) *time.Time {
	return &t
}

func activeBatch(id string, stock int, expiry *time.Time) *repository.Batch {
	return &repository.Batch{
		ID:           id,
		BatchNumber:  id,
		ProductID:    "product-1",
		BranchID:     "branch-1",
		CurrentStock: stock,
		ExpiryDate:   expiry,
		Status:       repository.BatchStatusActive,
		Version:      1,
	}
}

func TestPlanFromBatches_ConsumesOldestFirst(t *testing.T) {
	day := 24 * time.Hour
	now := time.Now()

	// Batches arrive pre-sorted oldest first, as the repository returns them
	batches := []*repository.Batch{
		activeBatch("b1", 30, datePtr(now.Add(2*day))),
		activeBatch("b2", 50, datePtr(now.Add(5*day))),
		activeBatch("b3", 100, datePtr(now.Add(10*day))),
	}

	plan := service.PlanFromBatches(batches, 60)

	require.True(t, plan.FullyFulfilled)
	assert.Equal(t, 60, plan.Allocated)
	assert.Equal(t, 0, plan.Shortfall)

	require.Len(t, plan.Deductions, 2)
	assert.Equal(t, "b1", plan.Deductions[0].Batch.ID)
	assert.Equal(t, 30, plan.Deductions[0].Quantity)
	assert.Equal(t, "b2", plan.Deductions[1].Batch.ID)
	assert.Equal(t, 30, plan.Deductions[1].Quantity)
}

func TestPlanFromBatches_ExactlyOneBatch(t *testing.T) {
	batches := []*repository.Batch{
		activeBatch("b1", 40, nil),
		activeBatch("b2", 10, nil),
	}

	plan := service.PlanFromBatches(batches, 40)

	require.True(t, plan.FullyFulfilled)
	require.Len(t, plan.Deductions, 1)
	assert.Equal(t, "b1", plan.Deductions[0].Batch.ID)
	assert.Equal(t, 40, plan.Deductions[0].Quantity)
}

func TestPlanFromBatches_Shortfall(t *testing.T) {
	batches := []*repository.Batch{
		activeBatch("b1", 5, nil),
		activeBatch("b2", 10, nil),
	}

	plan := service.PlanFromBatches(batches, 100)

	assert.False(t, plan.FullyFulfilled)
	assert.Equal(t, 15, plan.Allocated)
	assert.Equal(t, 85, plan.Shortfall)
	assert.Len(t, plan.Deductions, 2)
}

func TestPlanFromBatches_SkipsUnavailableBatches(t *testing.T) {
	expired := activeBatch("b1", 50, nil)
	expired.Status = repository.BatchStatusExpired
	empty := activeBatch("b2", 0, nil)

	batches := []*repository.Batch{
		expired,
		empty,
		activeBatch("b3", 20, nil),
	}

	plan := service.PlanFromBatches(batches, 10)

	require.True(t, plan.FullyFulfilled)
	require.Len(t, plan.Deductions, 1)
	assert.Equal(t, "b3", plan.Deductions[0].Batch.ID)
}

func TestPlanFromBatches_NoBatches(t *testing.T) {
	plan := service.PlanFromBatches(nil, 10)

	assert.False(t, plan.FullyFulfilled)
	assert.Equal(t, 0, plan.Allocated)
	assert.Equal(t, 10, plan.Shortfall)
	assert.Empty(t, plan.Deductions)
}

func TestPlanFromBatches_StopsOnceCovered(t *testing.T) {
	batches := []*repository.Batch{
		activeBatch("b1", 100, nil),
		activeBatch("b2", 100, nil),
	}

	plan := service.PlanFromBatches(batches, 1)

	require.Len(t, plan.Deductions, 1)
	assert.Equal(t, 1, plan.Deductions[0].Quantity)
	assert.Equal(t, 100, plan.Deductions[0].Batch.CurrentStock)
}
