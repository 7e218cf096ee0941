package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/services"
)

type TaskHandler struct {
	tasks  *services.TaskService
	orders *services.OrderService
	log    *slog.Logger
}

func NewTaskHandler(tasks *services.TaskService, orders *services.OrderService, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{tasks: tasks, orders: orders, log: log}
}

type createTaskRequest struct {
	Title          string          `json:"title" validate:"required,max=200"`
	Capacity       int             `json:"capacity" validate:"required,min=1,max=100000"`
	StepCount      int             `json:"step_count" validate:"required,min=1,max=20"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	UnitCommission decimal.Decimal `json:"unit_commission"`
}

type replenishResponse struct {
	Task  *models.Task    `json:"task"`
	Added decimal.Decimal `json:"added"`
}

// Create handles POST /tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.tasks.CreateDraft(r.Context(), a, services.CreateTaskInput{
		Title:          req.Title,
		Capacity:       req.Capacity,
		StepCount:      req.StepCount,
		UnitPrice:      req.UnitPrice,
		UnitCommission: req.UnitCommission,
	})
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// List handles GET /tasks?status=active.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	list, err := h.tasks.List(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

// Get handles GET /tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Publish handles POST /tasks/{id}/publish.
func (h *TaskHandler) Publish(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	t, err := h.tasks.Publish(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Replenish handles POST /tasks/{id}/replenish.
func (h *TaskHandler) Replenish(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	t, added, err := h.tasks.Replenish(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, replenishResponse{Task: t, Added: added})
}

// Cancel handles POST /tasks/{id}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	t, err := h.tasks.Cancel(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Claim handles POST /tasks/{id}/claim and returns the new pending order.
func (h *TaskHandler) Claim(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Open(r.Context(), a, id)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// Orders handles GET /tasks/{id}/orders for the owning merchant.
func (h *TaskHandler) Orders(w http.ResponseWriter, r *http.Request) {
	a, id, ok := actorAndID(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	list, err := h.orders.ListForTask(r.Context(), a, id, limit, offset)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": list})
}

func actorAndID(w http.ResponseWriter, r *http.Request) (models.Actor, uuid.UUID, bool) {
	a, ok := actor(w, r)
	if !ok {
		return models.Actor{}, uuid.Nil, false
	}
	id, ok := pathID(w, r, "id")
	return a, id, ok
}
