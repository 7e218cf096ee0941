package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

type TaskStore struct{ s *Store }

func (r *TaskStore) Create(ctx context.Context, t *models.Task) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("tasks.create"); err != nil {
		return err
	}
	if _, ok := r.s.tasks[t.ID]; ok {
		return models.ErrDuplicate
	}
	cp := *t
	r.s.tasks[t.ID] = &cp
	return nil
}

func (r *TaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *TaskStore) List(ctx context.Context, status string, limit, offset int) ([]*models.Task, error) {
	defer r.s.lock(ctx)()
	var out []*models.Task
	for _, t := range r.s.tasks {
		if status == "" || t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *TaskStore) Activate(ctx context.Context, id uuid.UUID, collateral decimal.Decimal) (*models.Task, error) {
	return r.mutate(ctx, "tasks.activate", id, func(t *models.Task) bool {
		if t.Status != models.TaskStatusDraft {
			return false
		}
		t.Status = models.TaskStatusActive
		t.UnclaimedCollateral = collateral
		return true
	})
}

// Lock only reads; the store already serializes units of work.
func (r *TaskStore) Lock(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("tasks.lock"); err != nil {
		return nil, err
	}
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// TryClaim is the guarded capacity increment.
func (r *TaskStore) TryClaim(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return r.mutate(ctx, "tasks.try_claim", id, func(t *models.Task) bool {
		if t.Status != models.TaskStatusActive || t.ClaimedCount >= t.Capacity || t.UnclaimedCollateral.LessThan(t.UnitPrice) {
			return false
		}
		t.ClaimedCount++
		t.UnclaimedCollateral = t.UnclaimedCollateral.Sub(t.UnitPrice)
		return true
	})
}

func (r *TaskStore) ReleaseClaim(ctx context.Context, id uuid.UUID, restoreCollateral bool) (*models.Task, error) {
	return r.mutate(ctx, "tasks.release_claim", id, func(t *models.Task) bool {
		if t.ClaimedCount <= 0 {
			return false
		}
		t.ClaimedCount--
		if restoreCollateral && t.Status == models.TaskStatusActive {
			t.UnclaimedCollateral = t.UnclaimedCollateral.Add(t.UnitPrice)
		}
		return true
	})
}

func (r *TaskStore) AddCollateral(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Task, error) {
	return r.mutate(ctx, "tasks.add_collateral", id, func(t *models.Task) bool {
		ceiling := t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Capacity - t.ClaimedCount)))
		if t.Status != models.TaskStatusActive || t.UnclaimedCollateral.Add(amount).GreaterThan(ceiling) {
			return false
		}
		t.UnclaimedCollateral = t.UnclaimedCollateral.Add(amount)
		return true
	})
}

// Cancel closes a draft or active task and returns the collateral it still held.
func (r *TaskStore) Cancel(ctx context.Context, id uuid.UUID) (*models.Task, decimal.Decimal, error) {
	released := decimal.Zero
	t, err := r.mutate(ctx, "tasks.cancel", id, func(t *models.Task) bool {
		if t.Status != models.TaskStatusDraft && t.Status != models.TaskStatusActive {
			return false
		}
		released = t.UnclaimedCollateral
		t.Status = models.TaskStatusCancelled
		t.UnclaimedCollateral = decimal.Zero
		return true
	})
	return t, released, err
}

func (r *TaskStore) CompleteIfExhausted(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.tasks[id]
	if !ok || t.Status != models.TaskStatusActive || t.ClaimedCount < t.Capacity {
		return false, nil
	}
	for _, o := range r.s.orders {
		if o.TaskID == id && o.IsOpen() {
			return false, nil
		}
	}
	t.Status = models.TaskStatusCompleted
	t.UpdatedAt = r.s.clock.Now()
	return true, nil
}

func (r *TaskStore) mutate(ctx context.Context, op string, id uuid.UUID, apply func(t *models.Task) bool) (*models.Task, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault(op); err != nil {
		return nil, err
	}
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, models.ErrConditionNotMet
	}
	next := *t
	if !apply(&next) {
		return nil, models.ErrConditionNotMet
	}
	next.UpdatedAt = r.s.clock.Now()
	*t = next
	cp := next
	return &cp, nil
}
