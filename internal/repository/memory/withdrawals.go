package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/models"
)

type WithdrawalStore struct{ s *Store }

func (r *WithdrawalStore) Create(ctx context.Context, w *models.Withdrawal) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("withdrawals.create"); err != nil {
		return err
	}
	if _, ok := r.s.withdrawals[w.ID]; ok {
		return models.ErrDuplicate
	}
	if w.ClientRef != nil {
		for _, existing := range r.s.withdrawals {
			if existing.AccountID == w.AccountID && existing.ClientRef != nil && *existing.ClientRef == *w.ClientRef {
				return models.ErrDuplicate
			}
		}
	}
	cp := *w
	r.s.withdrawals[w.ID] = &cp
	return nil
}

func (r *WithdrawalStore) Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	defer r.s.lock(ctx)()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *WithdrawalStore) GetByClientRef(ctx context.Context, accountID uuid.UUID, ref string) (*models.Withdrawal, error) {
	defer r.s.lock(ctx)()
	for _, w := range r.s.withdrawals {
		if w.AccountID == accountID && w.ClientRef != nil && *w.ClientRef == ref {
			cp := *w
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *WithdrawalStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Withdrawal, error) {
	return r.list(ctx, func(w *models.Withdrawal) bool { return w.AccountID == accountID }, limit, offset)
}

func (r *WithdrawalStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Withdrawal, error) {
	return r.list(ctx, func(w *models.Withdrawal) bool { return w.Status == status }, limit, offset)
}

// Review records the decision if the withdrawal is still pending.
func (r *WithdrawalStore) Review(ctx context.Context, id uuid.UUID, to string, reviewerID uuid.UUID, reason string) (*models.Withdrawal, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("withdrawals.review"); err != nil {
		return nil, err
	}
	w, ok := r.s.withdrawals[id]
	if !ok || w.Status != models.WithdrawalStatusPending {
		return nil, models.ErrConditionNotMet
	}
	now := r.s.clock.Now()
	next := *w
	next.Status = to
	next.ReviewerID = &reviewerID
	next.RejectReason = reason
	next.ReviewedAt = &now
	*w = next
	return &next, nil
}

func (r *WithdrawalStore) list(ctx context.Context, match func(w *models.Withdrawal) bool, limit, offset int) ([]*models.Withdrawal, error) {
	defer r.s.lock(ctx)()
	var out []*models.Withdrawal
	for _, w := range r.s.withdrawals {
		if match(w) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}
