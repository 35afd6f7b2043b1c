package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/httputil"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// BatchHandler handles batch and stock endpoints
type BatchHandler struct {
	stock  *service.StockService
	expiry *service.ExpiryService
	logger *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(stock *service.StockService, expiry *service.ExpiryService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		stock:  stock,
		expiry: expiry,
		logger: log,
	}
}

// Receive records a new batch delivered to a branch
func (h *BatchHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var input service.ReceiveBatchInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.stock.ReceiveBatch(r.Context(), actor.FromContext(r.Context()), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Get gets a batch with its movement history
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, movements, err := h.stock.GetBatch(r.Context(), actor.FromContext(r.Context()), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"batch":     batch,
		"movements": movements,
	})
}

// StockSummary returns a product's available stock at a branch by batch
func (h *BatchHandler) StockSummary(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	branchID := chi.URLParam(r, "branchID")

	summary, err := h.stock.GetStockSummary(r.Context(), actor.FromContext(r.Context()), productID, branchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// Deduct removes stock for a sale, oldest batches first
func (h *BatchHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	var input service.DeductInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	plan, err := h.stock.DeductForSale(r.Context(), actor.FromContext(r.Context()), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}

// ListExpired lists expired batches awaiting disposal at a branch
func (h *BatchHandler) ListExpired(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	batches, err := h.expiry.ListExpired(r.Context(), actor.FromContext(r.Context()), branchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// ListExpiring lists batches expiring within the requested number of days
func (h *BatchHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
			days = parsed
		}
	}

	batches, err := h.expiry.ListExpiring(r.Context(), actor.FromContext(r.Context()), branchID, time.Duration(days)*24*time.Hour)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

type disposeRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

// Dispose writes off an expired batch
func (h *BatchHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req disposeRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	batch, err := h.expiry.Dispose(r.Context(), actor.FromContext(r.Context()), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// UndoDisposal reverses a disposal
func (h *BatchHandler) UndoDisposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := h.expiry.UndoDisposal(r.Context(), actor.FromContext(r.Context()), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// Sweep triggers an expiry sweep immediately
func (h *BatchHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	count, err := h.expiry.SweepExpired(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]int{"expired": count})
}
