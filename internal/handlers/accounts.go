package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/services"
)

type AccountHandler struct {
	accounts *services.AccountService
	log      *slog.Logger
}

func NewAccountHandler(accounts *services.AccountService, log *slog.Logger) *AccountHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountHandler{accounts: accounts, log: log}
}

type depositRequest struct {
	Asset  string          `json:"asset" validate:"required,oneof=principal commission"`
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo" validate:"max=200"`
}

// Me handles GET /accounts/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	acc, err := h.accounts.Get(r.Context(), a, a.ID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// MyRecords handles GET /accounts/me/records.
func (h *AccountHandler) MyRecords(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	recs, err := h.accounts.Records(r.Context(), a, a.ID, limit, offset)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if recs == nil {
		recs = []*models.FundRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

// Get handles GET /admin/accounts/{id}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	acc, err := h.accounts.Get(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// Deposit handles POST /admin/accounts/{id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.accounts.Deposit(r.Context(), a, id, req.Asset, req.Amount, req.Memo)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// Reconcile handles GET /admin/accounts/{id}/reconcile.
func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.accounts.Reconcile(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CorrelatedRecords handles GET /admin/records?order_id=&task_id=&withdrawal_id=.
// Every given id must match; at least one is required.
func (h *AccountHandler) CorrelatedRecords(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var c models.Correlation
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{{"order_id", &c.OrderID}, {"task_id", &c.TaskID}, {"withdrawal_id", &c.WithdrawalID}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid "+p.name)
			return
		}
		*p.dst = &id
	}
	if c.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_query", "order_id, task_id or withdrawal_id is required")
		return
	}
	recs, err := h.accounts.CorrelatedRecords(r.Context(), a, c)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if recs == nil {
		recs = []*models.FundRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}
