package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/models"
)

type OrderStore struct{ s *Store }

// Create rejects a second open order for the same buyer and task.
func (r *OrderStore) Create(ctx context.Context, o *models.Order) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("orders.create"); err != nil {
		return err
	}
	if _, ok := r.s.orders[o.ID]; ok {
		return models.ErrDuplicate
	}
	for _, existing := range r.s.orders {
		if existing.TaskID == o.TaskID && existing.BuyerID == o.BuyerID && existing.IsOpen() {
			return models.ErrDuplicate
		}
	}
	cp := *o
	cp.Proofs = append([]string(nil), o.Proofs...)
	r.s.orders[o.ID] = &cp
	return nil
}

func (r *OrderStore) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyOrder(o), nil
}

func (r *OrderStore) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	return r.list(ctx, func(o *models.Order) bool { return o.BuyerID == buyerID }, limit, offset)
}

func (r *OrderStore) ListByTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	return r.list(ctx, func(o *models.Order) bool { return o.TaskID == taskID }, limit, offset)
}

// RecordStep appends the proof for step index. The final step moves the order to submitted.
func (r *OrderStore) RecordStep(ctx context.Context, id, buyerID uuid.UUID, index int, proof string) (*models.Order, error) {
	return r.mutate(ctx, "orders.record_step", id, func(o *models.Order, now time.Time) bool {
		if o.BuyerID != buyerID || o.Status != models.OrderStatusPending || o.StepsDone != index {
			return false
		}
		o.StepsDone++
		o.Proofs = append(o.Proofs, proof)
		if o.StepsDone >= o.StepCount {
			o.Status = models.OrderStatusSubmitted
			o.SubmittedAt = &now
		}
		return true
	})
}

// Transition moves the order to `to` if its status is one of from.
func (r *OrderStore) Transition(ctx context.Context, id uuid.UUID, from []string, to, reason string) (*models.Order, error) {
	return r.mutate(ctx, "orders.transition", id, func(o *models.Order, now time.Time) bool {
		if !slices.Contains(from, o.Status) {
			return false
		}
		o.Status = to
		switch to {
		case models.OrderStatusApproved, models.OrderStatusCompleted:
			o.CompletedAt = &now
		case models.OrderStatusRejected:
			o.RejectReason = reason
			o.CompletedAt = &now
		case models.OrderStatusCancelled:
			o.CancelReason = reason
			o.CompletedAt = &now
		}
		return true
	})
}

func (r *OrderStore) list(ctx context.Context, match func(o *models.Order) bool, limit, offset int) ([]*models.Order, error) {
	defer r.s.lock(ctx)()
	var out []*models.Order
	for _, o := range r.s.orders {
		if match(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *OrderStore) mutate(ctx context.Context, op string, id uuid.UUID, apply func(o *models.Order, now time.Time) bool) (*models.Order, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault(op); err != nil {
		return nil, err
	}
	o, ok := r.s.orders[id]
	if !ok {
		return nil, models.ErrConditionNotMet
	}
	next := copyOrder(o)
	now := r.s.clock.Now()
	if !apply(next, now) {
		return nil, models.ErrConditionNotMet
	}
	next.UpdatedAt = now
	r.s.orders[id] = next
	return copyOrder(next), nil
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Proofs = append([]string(nil), o.Proofs...)
	return &cp
}
