package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

const accountColumns = `id, kind, available_principal::text, frozen_principal::text,
	available_commission::text, frozen_commission::text, created_at, updated_at`

// balanceColumns is the only source of column names interpolated into SQL.
var balanceColumns = map[string]struct{ available, frozen string }{
	models.AssetPrincipal:  {"available_principal", "frozen_principal"},
	models.AssetCommission: {"available_commission", "frozen_commission"},
}

// AccountRepo keeps the balance rows. Every balance change is one guarded
// UPDATE ... RETURNING; zero rows means the guard failed.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO accounts (id, kind, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING created_at, updated_at
	`, a.ID, a.Kind, a.CreatedAt).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapError(err)
}

func (r *AccountRepo) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *AccountRepo) DebitAvailable(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.update(ctx, asset, func(av, _ string) string {
		return fmt.Sprintf(`%[1]s = %[1]s - $2::numeric WHERE id = $1 AND %[1]s >= $2::numeric`, av)
	}, id, amount)
}

func (r *AccountRepo) CreditAvailable(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.update(ctx, asset, func(av, _ string) string {
		return fmt.Sprintf(`%[1]s = %[1]s + $2::numeric WHERE id = $1`, av)
	}, id, amount)
}

func (r *AccountRepo) Freeze(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.update(ctx, asset, func(av, fz string) string {
		return fmt.Sprintf(`%[1]s = %[1]s - $2::numeric, %[2]s = %[2]s + $2::numeric
			WHERE id = $1 AND %[1]s >= $2::numeric`, av, fz)
	}, id, amount)
}

func (r *AccountRepo) Unfreeze(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.update(ctx, asset, func(av, fz string) string {
		return fmt.Sprintf(`%[2]s = %[2]s - $2::numeric, %[1]s = %[1]s + $2::numeric
			WHERE id = $1 AND %[2]s >= $2::numeric`, av, fz)
	}, id, amount)
}

func (r *AccountRepo) DebitFrozen(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error) {
	return r.update(ctx, asset, func(_, fz string) string {
		return fmt.Sprintf(`%[1]s = %[1]s - $2::numeric WHERE id = $1 AND %[1]s >= $2::numeric`, fz)
	}, id, amount)
}

func (r *AccountRepo) update(ctx context.Context, asset string, set func(available, frozen string) string, id uuid.UUID, amount decimal.Decimal) (*models.Account, error) {
	cols, ok := balanceColumns[asset]
	if !ok {
		return nil, models.ErrInvalidAsset
	}
	sql := `UPDATE accounts SET updated_at = now(), ` + set(cols.available, cols.frozen) +
		` RETURNING ` + accountColumns
	a, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, sql, id, amount.String()))
	if err != nil {
		return nil, guarded(err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Kind, num(&a.AvailablePrincipal), num(&a.FrozenPrincipal),
		num(&a.AvailableCommission), num(&a.FrozenCommission), &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
