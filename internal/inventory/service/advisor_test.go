package service_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
	"github.com/freshmart/freshmart-backend/pkg/testutil"
)

var branchColumns = []string{
	"id", "name", "code", "latitude", "longitude", "is_active", "created_at", "updated_at",
}

func branchRow(id, name string, lat, lon interface{}) []driver.Value {
	now := time.Now()
	return []driver.Value{id, name, "BR-" + id, lat, lon, true, now, now}
}

type advisorFixture struct {
	advisor *service.AllocationAdvisor
	mockDB  *testutil.MockDB
}

func newAdvisorFixture(t *testing.T) *advisorFixture {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	adv := service.NewAllocationAdvisor(
		repository.NewBatchRepository(db),
		repository.NewBranchRepository(db),
		log,
	)

	return &advisorFixture{advisor: adv, mockDB: mockDB}
}

func TestAllocationAdvisor_RouteScore(t *testing.T) {
	f := newAdvisorFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM branches WHERE id = $1").
		WithArgs("branch-1").
		WillReturnRows(testutil.MockRows(branchColumns...).
			AddRow(branchRow("branch-1", "Berlin", 52.5200, 13.4050)...))
	f.mockDB.ExpectQuery("SELECT * FROM branches WHERE id = $1").
		WithArgs("branch-2").
		WillReturnRows(testutil.MockRows(branchColumns...).
			AddRow(branchRow("branch-2", "Hamburg", 53.5511, 9.9937)...))

	route, err := f.advisor.RouteScore(context.Background(), systemActor(), "branch-1", "branch-2")
	require.NoError(t, err)

	require.NotNil(t, route.DistanceKm)
	assert.InDelta(t, 255, *route.DistanceKm, 10)
	// 50km halves the score, so ~255km lands well under 0.2
	assert.InDelta(t, 50.0/(50.0+*route.DistanceKm), route.Score, 0.0001)
	assert.Less(t, route.Score, 0.2)

	f.mockDB.ExpectationsWereMet(t)
}

func TestAllocationAdvisor_RouteScore_UnknownDistance(t *testing.T) {
	f := newAdvisorFixture(t)
	defer f.mockDB.Close()

	f.mockDB.ExpectQuery("SELECT * FROM branches WHERE id = $1").
		WithArgs("branch-1").
		WillReturnRows(testutil.MockRows(branchColumns...).
			AddRow(branchRow("branch-1", "Berlin", 52.5200, 13.4050)...))
	f.mockDB.ExpectQuery("SELECT * FROM branches WHERE id = $1").
		WithArgs("branch-2").
		WillReturnRows(testutil.MockRows(branchColumns...).
			AddRow(branchRow("branch-2", "Warehouse", nil, nil)...))

	route, err := f.advisor.RouteScore(context.Background(), systemActor(), "branch-1", "branch-2")
	require.NoError(t, err)

	assert.Nil(t, route.DistanceKm)
	assert.Equal(t, 0.5, route.Score)

	f.mockDB.ExpectationsWereMet(t)
}

func TestAllocationAdvisor_RouteScore_SameBranch(t *testing.T) {
	f := newAdvisorFixture(t)
	defer f.mockDB.Close()

	_, err := f.advisor.RouteScore(context.Background(), systemActor(), "branch-1", "branch-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestAllocationAdvisor_RouteScore_AccessDenied(t *testing.T) {
	f := newAdvisorFixture(t)
	defer f.mockDB.Close()

	act := &actor.Actor{ID: "user-1", BranchIDs: []string{"branch-9"}}

	_, err := f.advisor.RouteScore(context.Background(), act, "branch-1", "branch-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
}
