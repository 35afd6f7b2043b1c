package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/httputil"
	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// TransferHandler handles transfer workflow endpoints
type TransferHandler struct {
	transfers *service.TransferService
	logger    *logger.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(transfers *service.TransferService, log *logger.Logger) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		logger:    log,
	}
}

// Create requests a new transfer
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateTransferInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	transfer, err := h.transfers.Create(r.Context(), actor.FromContext(r.Context()), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, transfer)
}

// Emergency creates and approves a transfer in one step
func (h *TransferHandler) Emergency(w http.ResponseWriter, r *http.Request) {
	var input service.CreateTransferInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	transfer, err := h.transfers.EmergencyTransfer(r.Context(), actor.FromContext(r.Context()), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, transfer)
}

// Get gets a transfer with its items and status history
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	transfer, history, err := h.transfers.Get(r.Context(), actor.FromContext(r.Context()), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"transfer": transfer,
		"history":  history,
	})
}

// List lists transfers for a branch
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	status := r.URL.Query().Get("status")

	transfers, err := h.transfers.List(r.Context(), actor.FromContext(r.Context()), branchID, status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, transfers)
}

type transitionRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=1000"`
}

func (h *TransferHandler) decodeNotes(r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var req transitionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return "", err
	}
	return req.Notes, nil
}

// Approve reserves source stock and approves the transfer
func (h *TransferHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transfers.Approve)
}

// Reject declines a pending transfer
func (h *TransferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transfers.Reject)
}

// Ship marks an approved transfer as in transit
func (h *TransferHandler) Ship(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transfers.Ship)
}

// Receive completes a shipped transfer at the destination
func (h *TransferHandler) Receive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transfers.Receive)
}

// Cancel aborts a transfer that has not been received
func (h *TransferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transfers.Cancel)
}

type transitionFunc func(ctx context.Context, act *actor.Actor, transferID, notes string) (*repository.TransferRequest, error)

func (h *TransferHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id := chi.URLParam(r, "id")

	notes, err := h.decodeNotes(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	transfer, err := fn(r.Context(), actor.FromContext(r.Context()), id, notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, transfer)
}
