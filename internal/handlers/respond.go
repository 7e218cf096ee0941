package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/middleware"
	"github.com/taskbazaar/backend/internal/models"
)

var validate = validator.New()

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{models.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},

	{models.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{models.ErrTaskNotFound, http.StatusNotFound, "task_not_found"},
	{models.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{models.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal_not_found"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},

	{models.ErrInvalidID, http.StatusBadRequest, "invalid_id"},
	{models.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{models.ErrInvalidAsset, http.StatusBadRequest, "invalid_asset"},
	{models.ErrInvalidTask, http.StatusBadRequest, "invalid_task"},
	{models.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},
	{models.ErrInvalidPayout, http.StatusBadRequest, "invalid_payout_details"},
	{models.ErrSameAccount, http.StatusBadRequest, "same_account"},

	{models.ErrTaskNotActive, http.StatusConflict, "task_not_active"},
	{models.ErrCapacityExhausted, http.StatusConflict, "capacity_exhausted"},
	{models.ErrTaskState, http.StatusConflict, "task_state"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrStepOutOfOrder, http.StatusConflict, "step_out_of_order"},
	{models.ErrOrderExists, http.StatusConflict, "order_exists"},
	{models.ErrAlreadyReviewed, http.StatusConflict, "already_reviewed"},
	{models.ErrAccountExists, http.StatusConflict, "account_exists"},
	{models.ErrDuplicate, http.StatusConflict, "duplicate"},
}

// respondError maps domain errors to HTTP responses. Invariant violations
// and unknown errors never leak their details to the client.
func respondError(w http.ResponseWriter, log *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.target.Error()
			if m.target == models.ErrInsufficientFunds || m.target == models.ErrInvalidPayout {
				msg = err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	switch {
	case models.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporarily unavailable, please retry")
	case errors.Is(err, models.ErrInvariantViolation):
		log.Error("ledger invariant violation surfaced to client", "error", err)
		writeError(w, http.StatusInternalServerError, "operation_failed", "operation failed, please contact support")
	default:
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// decode reads a JSON body into dst and runs its validate tags. An empty
// body decodes as {}. It writes the 400 response itself and reports whether
// the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "invalid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	}
	return a, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// page reads limit and offset query parameters; the services clamp them.
func page(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
