package service

import (
	"context"
	"math"
	"sort"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// AllocationAdvisor answers "where should stock come from" questions. It is
// strictly read-only: it never reserves stock, so its answers are advisory
// and may be stale by the time a transfer is created from them.
type AllocationAdvisor struct {
	batches  *repository.BatchRepository
	branches *repository.BranchRepository
	logger   *logger.Logger
}

// NewAllocationAdvisor creates a new allocation advisor
func NewAllocationAdvisor(batches *repository.BatchRepository, branches *repository.BranchRepository, log *logger.Logger) *AllocationAdvisor {
	return &AllocationAdvisor{
		batches:  batches,
		branches: branches,
		logger:   log.WithComponent("allocation-advisor"),
	}
}

// SourceCandidate is one branch ranked as a potential stock source
type SourceCandidate struct {
	Branch     *repository.Branch `json:"branch"`
	Available  int                `json:"available"`
	Surplus    int                `json:"surplus"`
	DistanceKm *float64           `json:"distance_km,omitempty"`
	CanFulfill bool               `json:"can_fulfill"`
	Score      float64            `json:"score"`
}

// EmergencySources ranks the branches that could cover an emergency demand
// for a product. Branches able to fulfill the full quantity from surplus
// rank first; distance to the requesting branch breaks ties. Branches with
// no surplus above their configured minimum are excluded.
func (a *AllocationAdvisor) EmergencySources(ctx context.Context, act *actor.Actor, productID, branchID string, quantity int) ([]*SourceCandidate, error) {
	if !act.CanAccessBranch(branchID) {
		return nil, errors.AccessDenied("no access to branch")
	}
	if quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}

	target, err := a.branches.GetByID(ctx, branchID)
	if err != nil {
		return nil, err
	}

	branches, err := a.branches.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*SourceCandidate
	for _, branch := range branches {
		if branch.ID == branchID {
			continue
		}

		available, err := a.batches.TotalAvailable(ctx, productID, branch.ID)
		if err != nil {
			return nil, err
		}
		if available == 0 {
			continue
		}

		level, err := a.branches.GetStockLevel(ctx, branch.ID, productID)
		if err != nil {
			return nil, err
		}

		surplus := available - level.MinStock
		if surplus <= 0 {
			continue
		}

		candidate := &SourceCandidate{
			Branch:     branch,
			Available:  available,
			Surplus:    surplus,
			CanFulfill: surplus >= quantity,
			DistanceKm: distanceKm(target, branch),
		}
		candidate.Score = a.score(candidate, quantity)
		candidates = append(candidates, candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates, nil
}

// score rates a candidate by how much of the demand its surplus covers,
// discounted by distance. 50km halves the distance factor.
func (a *AllocationAdvisor) score(c *SourceCandidate, quantity int) float64 {
	coverage := float64(c.Surplus) / float64(quantity)
	if coverage > 1 {
		coverage = 1
	}

	distanceFactor := 1.0
	if c.DistanceKm != nil {
		distanceFactor = 50.0 / (50.0 + *c.DistanceKm)
	} else {
		// Unknown distance ranks below any known one at equal coverage
		distanceFactor = 0.5
	}

	return coverage * distanceFactor
}

// RebalancingSuggestion proposes moving stock between two branches
type RebalancingSuggestion struct {
	ProductID   string             `json:"product_id"`
	FromBranch  *repository.Branch `json:"from_branch"`
	ToBranch    *repository.Branch `json:"to_branch"`
	Quantity    int                `json:"quantity"`
	FromSurplus int                `json:"from_surplus"`
	ToDeficit   int                `json:"to_deficit"`
	DistanceKm  *float64           `json:"distance_km,omitempty"`
}

// RebalancingSuggestions pairs branches holding stock above their maximum
// with branches below their minimum, largest deficits first. Each suggestion
// moves the smaller of the donor's surplus and the receiver's shortfall to
// its max level.
func (a *AllocationAdvisor) RebalancingSuggestions(ctx context.Context, act *actor.Actor, productID string) ([]*RebalancingSuggestion, error) {
	levels, err := a.branches.GetStockLevels(ctx, productID)
	if err != nil {
		return nil, err
	}

	branchesByID := make(map[string]*repository.Branch)
	active, err := a.branches.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range active {
		branchesByID[b.ID] = b
	}

	type branchStock struct {
		branch    *repository.Branch
		available int
		level     *repository.StockLevel
	}

	var donors, receivers []*branchStock
	for _, level := range levels {
		branch, ok := branchesByID[level.BranchID]
		if !ok {
			continue
		}
		// Advisor output only spans branches the caller can see
		if !act.CanAccessBranch(branch.ID) {
			continue
		}

		available, err := a.batches.TotalAvailable(ctx, productID, branch.ID)
		if err != nil {
			return nil, err
		}

		bs := &branchStock{branch: branch, available: available, level: level}
		switch {
		case level.MaxStock > 0 && available > level.MaxStock:
			donors = append(donors, bs)
		case available < level.MinStock:
			receivers = append(receivers, bs)
		}
	}

	// Worst shortfalls first, biggest surpluses first
	sort.Slice(receivers, func(i, j int) bool {
		return receivers[i].level.MinStock-receivers[i].available > receivers[j].level.MinStock-receivers[j].available
	})
	sort.Slice(donors, func(i, j int) bool {
		return donors[i].available-donors[i].level.MaxStock > donors[j].available-donors[j].level.MaxStock
	})

	var suggestions []*RebalancingSuggestion
	for _, receiver := range receivers {
		deficit := receiver.level.MinStock - receiver.available

		for _, donor := range donors {
			surplus := donor.available - donor.level.MaxStock
			if surplus <= 0 || deficit <= 0 {
				continue
			}

			quantity := surplus
			if quantity > deficit {
				quantity = deficit
			}

			suggestions = append(suggestions, &RebalancingSuggestion{
				ProductID:   productID,
				FromBranch:  donor.branch,
				ToBranch:    receiver.branch,
				Quantity:    quantity,
				FromSurplus: surplus,
				ToDeficit:   deficit,
				DistanceKm:  distanceKm(donor.branch, receiver.branch),
			})

			donor.available -= quantity
			deficit -= quantity
		}
	}

	return suggestions, nil
}

// RouteEfficiency rates how efficient moving stock between two branches is
type RouteEfficiency struct {
	FromBranch *repository.Branch `json:"from_branch"`
	ToBranch   *repository.Branch `json:"to_branch"`
	DistanceKm *float64           `json:"distance_km,omitempty"`
	Score      float64            `json:"score"`
}

// RouteScore rates a source/destination branch pair by distance. Closer pairs
// score higher; 50km halves the score, and a pair with unknown coordinates
// gets the same 0.5 discount the source ranking uses.
func (a *AllocationAdvisor) RouteScore(ctx context.Context, act *actor.Actor, fromBranchID, toBranchID string) (*RouteEfficiency, error) {
	if !act.CanAccessBranch(fromBranchID) && !act.CanAccessBranch(toBranchID) {
		return nil, errors.AccessDenied("no access to either branch")
	}
	if fromBranchID == toBranchID {
		return nil, errors.BadRequest("source and destination branches must differ")
	}

	from, err := a.branches.GetByID(ctx, fromBranchID)
	if err != nil {
		return nil, err
	}
	to, err := a.branches.GetByID(ctx, toBranchID)
	if err != nil {
		return nil, err
	}

	route := &RouteEfficiency{
		FromBranch: from,
		ToBranch:   to,
		DistanceKm: distanceKm(from, to),
		Score:      0.5,
	}
	if route.DistanceKm != nil {
		route.Score = 50.0 / (50.0 + *route.DistanceKm)
	}

	return route, nil
}

// distanceKm computes the great-circle distance between two branches, or
// nil when either branch has no coordinates.
func distanceKm(a, b *repository.Branch) *float64 {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return nil
	}

	const earthRadiusKm = 6371.0

	lat1 := *a.Latitude * math.Pi / 180
	lat2 := *b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (*b.Longitude - *a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
	return &d
}
