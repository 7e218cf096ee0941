package handlers

import (
	"log/slog"
	"net/http"

	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/services"
)

type OrderHandler struct {
	orders     *services.OrderService
	settlement *services.Settlement
	log        *slog.Logger
}

func NewOrderHandler(orders *services.OrderService, settlement *services.Settlement, log *slog.Logger) *OrderHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OrderHandler{orders: orders, settlement: settlement, log: log}
}

type submitStepRequest struct {
	Index *int   `json:"index" validate:"required,min=0"`
	Proof string `json:"proof" validate:"required,max=2048"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ListMine handles GET /orders for the calling buyer.
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	list, err := h.orders.ListForBuyer(r.Context(), a, limit, offset)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": list})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Get(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// SubmitStep handles POST /orders/{id}/steps.
func (h *OrderHandler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var req submitStepRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.SubmitStep(r.Context(), a, id, *req.Index, req.Proof)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Approve handles POST /orders/{id}/approve.
func (h *OrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	o, err := h.settlement.Approve(r.Context(), id, a)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Reject handles POST /orders/{id}/reject.
func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.settlement.Reject(r.Context(), id, a, req.Reason)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Cancel handles POST /orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.settlement.Cancel(r.Context(), id, a, req.Reason)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
