package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/services"
)

type WithdrawalHandler struct {
	withdrawals *services.WithdrawalLifecycle
	log         *slog.Logger
}

func NewWithdrawalHandler(withdrawals *services.WithdrawalLifecycle, log *slog.Logger) *WithdrawalHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WithdrawalHandler{withdrawals: withdrawals, log: log}
}

type withdrawalRequest struct {
	Asset         string          `json:"asset" validate:"required,oneof=principal commission"`
	Amount        decimal.Decimal `json:"amount"`
	PayoutDetails json.RawMessage `json:"payout_details" validate:"required"`
	ClientRef     string          `json:"client_ref" validate:"max=64"`
}

// Request handles POST /withdrawals.
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	wd, err := h.withdrawals.Request(r.Context(), a, services.WithdrawalInput{
		Asset:         req.Asset,
		Amount:        req.Amount,
		PayoutDetails: req.PayoutDetails,
		ClientRef:     req.ClientRef,
	})
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// ListMine handles GET /withdrawals.
func (h *WithdrawalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	list, err := h.withdrawals.ListMine(r.Context(), a, limit, offset)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": nonNil(list)})
}

// Get handles GET /withdrawals/{id}.
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	wd, err := h.withdrawals.Get(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// ListPending handles GET /admin/withdrawals.
func (h *WithdrawalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	list, err := h.withdrawals.ListPending(r.Context(), a, limit, offset)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": nonNil(list)})
}

// Approve handles POST /withdrawals/{id}/approve.
func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	wd, err := h.withdrawals.Approve(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// Reject handles POST /withdrawals/{id}/reject.
func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	wd, err := h.withdrawals.Reject(r.Context(), a, id, req.Reason)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

func nonNil(list []*models.Withdrawal) []*models.Withdrawal {
	if list == nil {
		return []*models.Withdrawal{}
	}
	return list
}
