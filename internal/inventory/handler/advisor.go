package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/errors"
	"github.com/freshmart/freshmart-backend/pkg/httputil"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// AdvisorHandler handles allocation advisor endpoints
type AdvisorHandler struct {
	advisor *service.AllocationAdvisor
	logger  *logger.Logger
}

// NewAdvisorHandler creates a new advisor handler
func NewAdvisorHandler(advisor *service.AllocationAdvisor, log *logger.Logger) *AdvisorHandler {
	return &AdvisorHandler{
		advisor: advisor,
		logger:  log,
	}
}

// EmergencySources ranks branches that could cover an emergency demand
func (h *AdvisorHandler) EmergencySources(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	branchID := chi.URLParam(r, "branchID")

	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity <= 0 {
		httputil.Error(w, errors.BadRequest("quantity query parameter must be a positive integer"))
		return
	}

	candidates, err := h.advisor.EmergencySources(r.Context(), actor.FromContext(r.Context()), productID, branchID, quantity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, candidates)
}

// RouteScore rates the efficiency of a source/destination branch pair
func (h *AdvisorHandler) RouteScore(w http.ResponseWriter, r *http.Request) {
	fromBranchID := chi.URLParam(r, "fromBranchID")
	toBranchID := chi.URLParam(r, "toBranchID")

	route, err := h.advisor.RouteScore(r.Context(), actor.FromContext(r.Context()), fromBranchID, toBranchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, route)
}

// Rebalancing suggests stock moves to bring branches inside their bands
func (h *AdvisorHandler) Rebalancing(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	suggestions, err := h.advisor.RebalancingSuggestions(r.Context(), actor.FromContext(r.Context()), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, suggestions)
}
