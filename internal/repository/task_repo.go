package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

const taskColumns = `id, merchant_id, title, capacity, claimed_count, step_count, unit_price::text,
	unit_commission::text, unclaimed_collateral::text, status, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tasks (id, merchant_id, title, capacity, claimed_count, step_count, unit_price,
			unit_commission, unclaimed_collateral, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.MerchantID, t.Title, t.Capacity, t.ClaimedCount, t.StepCount, t.UnitPrice.String(),
		t.UnitCommission.String(), t.UnclaimedCollateral.String(), t.Status, t.CreatedAt).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapError(err)
}

func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// List returns tasks newest first; an empty status matches every task.
func (r *TaskRepo) List(ctx context.Context, status string, limit, offset int) ([]*models.Task, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, mapError(rows.Err())
}

func (r *TaskRepo) Activate(ctx context.Context, id uuid.UUID, collateral decimal.Decimal) (*models.Task, error) {
	return r.update(ctx, `
		UPDATE tasks SET status = 'active', unclaimed_collateral = $2::numeric, updated_at = now()
		WHERE id = $1 AND status = 'draft'
		RETURNING `+taskColumns, id, collateral.String())
}

// Lock serializes settlements of the same task. FOR NO KEY UPDATE leaves
// order inserts (which take a key-share lock through the foreign key) alone.
func (r *TaskRepo) Lock(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR NO KEY UPDATE`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// TryClaim reserves one slot and moves one unit price of collateral out of
// the unclaimed pool. It is the only statement that increments claimed_count.
func (r *TaskRepo) TryClaim(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return r.update(ctx, `
		UPDATE tasks
		SET claimed_count = claimed_count + 1,
		    unclaimed_collateral = unclaimed_collateral - unit_price,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND claimed_count < capacity
		  AND unclaimed_collateral >= unit_price
		RETURNING `+taskColumns, id)
}

func (r *TaskRepo) ReleaseClaim(ctx context.Context, id uuid.UUID, restoreCollateral bool) (*models.Task, error) {
	return r.update(ctx, `
		UPDATE tasks
		SET claimed_count = claimed_count - 1,
		    unclaimed_collateral = unclaimed_collateral + CASE WHEN $2 AND status = 'active' THEN unit_price ELSE 0 END,
		    updated_at = now()
		WHERE id = $1 AND claimed_count > 0
		RETURNING `+taskColumns, id, restoreCollateral)
}

// AddCollateral tops up the unclaimed pool, never beyond what the remaining
// slots can use.
func (r *TaskRepo) AddCollateral(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Task, error) {
	return r.update(ctx, `
		UPDATE tasks
		SET unclaimed_collateral = unclaimed_collateral + $2::numeric, updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND unclaimed_collateral + $2::numeric <= unit_price * (capacity - claimed_count)
		RETURNING `+taskColumns, id, amount.String())
}

// Cancel closes a draft or active task and returns the collateral it held
// before the update.
func (r *TaskRepo) Cancel(ctx context.Context, id uuid.UUID) (*models.Task, decimal.Decimal, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		WITH prev AS (
			SELECT id, unclaimed_collateral FROM tasks
			WHERE id = $1 AND status IN ('draft', 'active')
			FOR UPDATE
		)
		UPDATE tasks t
		SET status = 'cancelled', unclaimed_collateral = 0, updated_at = now()
		FROM prev
		WHERE t.id = prev.id
		RETURNING prev.unclaimed_collateral::text, t.id, t.merchant_id, t.title, t.capacity, t.claimed_count,
			t.step_count, t.unit_price::text, t.unit_commission::text, t.unclaimed_collateral::text, t.status,
			t.created_at, t.updated_at
	`, id)
	var (
		released decimal.Decimal
		t        models.Task
	)
	err := row.Scan(num(&released), &t.ID, &t.MerchantID, &t.Title, &t.Capacity, &t.ClaimedCount, &t.StepCount,
		num(&t.UnitPrice), num(&t.UnitCommission), num(&t.UnclaimedCollateral), &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, decimal.Zero, guarded(err)
	}
	return &t, released, nil
}

// CompleteIfExhausted marks a fully claimed task completed once none of its
// orders is still open.
func (r *TaskRepo) CompleteIfExhausted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE tasks SET status = 'completed', updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND claimed_count >= capacity
		  AND NOT EXISTS (
			SELECT 1 FROM orders o
			WHERE o.task_id = tasks.id AND o.status IN ('pending', 'submitted')
		  )
	`, id)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepo) update(ctx context.Context, sql string, args ...any) (*models.Task, error) {
	t, err := scanTask(conn(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, guarded(err)
	}
	return t, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.MerchantID, &t.Title, &t.Capacity, &t.ClaimedCount, &t.StepCount,
		num(&t.UnitPrice), num(&t.UnitCommission), num(&t.UnclaimedCollateral), &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
