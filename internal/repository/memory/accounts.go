package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

type AccountStore struct{ s *Store }

func (r *AccountStore) Create(ctx context.Context, a *models.Account) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("accounts.create"); err != nil {
		return err
	}
	if _, ok := r.s.accounts[a.ID]; ok {
		return models.ErrDuplicate
	}
	cp := *a
	r.s.accounts[a.ID] = &cp
	return nil
}

func (r *AccountStore) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("accounts.get"); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *AccountStore) DebitAvailable(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.mutate(ctx, "accounts.debit_available", id, func(a *models.Account) bool {
		av := available(a, asset)
		if av.LessThan(amount) {
			return false
		}
		*av = av.Sub(amount)
		return true
	})
}

func (r *AccountStore) CreditAvailable(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.mutate(ctx, "accounts.credit_available", id, func(a *models.Account) bool {
		av := available(a, asset)
		*av = av.Add(amount)
		return true
	})
}

func (r *AccountStore) Freeze(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.mutate(ctx, "accounts.freeze", id, func(a *models.Account) bool {
		av, fz := available(a, asset), frozen(a, asset)
		if av.LessThan(amount) {
			return false
		}
		*av = av.Sub(amount)
		*fz = fz.Add(amount)
		return true
	})
}

func (r *AccountStore) Unfreeze(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.mutate(ctx, "accounts.unfreeze", id, func(a *models.Account) bool {
		av, fz := available(a, asset), frozen(a, asset)
		if fz.LessThan(amount) {
			return false
		}
		*fz = fz.Sub(amount)
		*av = av.Add(amount)
		return true
	})
}

func (r *AccountStore) DebitFrozen(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.mutate(ctx, "accounts.debit_frozen", id, func(a *models.Account) bool {
		fz := frozen(a, asset)
		if fz.LessThan(amount) {
			return false
		}
		*fz = fz.Sub(amount)
		return true
	})
}

// Adjust overwrites balances directly. Tests use it to simulate corruption.
func (r *AccountStore) Adjust(ctx context.Context, id uuid.UUID, fn func(a *models.Account)) {
	defer r.s.lock(ctx)()
	if a, ok := r.s.accounts[id]; ok {
		fn(a)
	}
}

func (r *AccountStore) mutate(ctx context.Context, op string, id uuid.UUID, apply func(a *models.Account) bool) (*models.Account, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault(op); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, models.ErrConditionNotMet
	}
	next := *a
	if !apply(&next) {
		return nil, models.ErrConditionNotMet
	}
	next.UpdatedAt = r.s.clock.Now()
	*a = next
	cp := next
	return &cp, nil
}

func available(a *models.Account, asset string) *decimal.Decimal {
	if asset == models.AssetCommission {
		return &a.AvailableCommission
	}
	return &a.AvailablePrincipal
}

func frozen(a *models.Account, asset string) *decimal.Decimal {
	if asset == models.AssetCommission {
		return &a.FrozenCommission
	}
	return &a.FrozenPrincipal
}
