package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskbazaar/backend/internal/models"
)

const orderColumns = `id, task_id, buyer_id, merchant_id, status, principal_amount::text, commission_amount::text,
	step_count, steps_done, proofs, reject_reason, cancel_reason, created_at, submitted_at, completed_at, updated_at`

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create fails with models.ErrDuplicate when the buyer already holds an open
// order on the task (orders_one_open_per_buyer).
func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	proofs := o.Proofs
	if proofs == nil {
		proofs = []string{}
	}
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO orders (id, task_id, buyer_id, merchant_id, status, principal_amount, commission_amount,
			step_count, steps_done, proofs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $11)
		RETURNING created_at, updated_at
	`, o.ID, o.TaskID, o.BuyerID, o.MerchantID, o.Status, o.PrincipalAmount.String(), o.CommissionAmount.String(),
		o.StepCount, o.StepsDone, proofs, o.CreatedAt).Scan(&o.CreatedAt, &o.UpdatedAt)
	return mapError(err)
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	return r.list(ctx, `buyer_id = $1`, buyerID, limit, offset)
}

func (r *OrderRepo) ListByTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	return r.list(ctx, `task_id = $1`, taskID, limit, offset)
}

// RecordStep appends the proof for step index. The final step moves the
// order to submitted.
func (r *OrderRepo) RecordStep(ctx context.Context, id, buyerID uuid.UUID, index int, proof string) (*models.Order, error) {
	return r.update(ctx, `
		UPDATE orders
		SET steps_done = steps_done + 1,
		    proofs = array_append(proofs, $4),
		    status = CASE WHEN steps_done + 1 >= step_count THEN 'submitted' ELSE status END,
		    submitted_at = CASE WHEN steps_done + 1 >= step_count THEN now() ELSE submitted_at END,
		    updated_at = now()
		WHERE id = $1 AND buyer_id = $2 AND status = 'pending' AND steps_done = $3
		RETURNING `+orderColumns, id, buyerID, index, proof)
}

// Transition moves the order to `to` if its current status is one of from.
func (r *OrderRepo) Transition(ctx context.Context, id uuid.UUID, from []string, to, reason string) (*models.Order, error) {
	return r.update(ctx, `
		UPDATE orders
		SET status = $3,
		    reject_reason = CASE WHEN $3 = 'rejected' THEN $4 ELSE reject_reason END,
		    cancel_reason = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancel_reason END,
		    completed_at = CASE WHEN $3 IN ('approved', 'completed', 'rejected', 'cancelled') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($2::text[])
		RETURNING `+orderColumns, id, from, to, reason)
}

func (r *OrderRepo) list(ctx context.Context, where string, arg any, limit, offset int) ([]*models.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, arg, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, mapError(rows.Err())
}

func (r *OrderRepo) update(ctx context.Context, sql string, args ...any) (*models.Order, error) {
	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, guarded(err)
	}
	return o, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.TaskID, &o.BuyerID, &o.MerchantID, &o.Status, num(&o.PrincipalAmount),
		num(&o.CommissionAmount), &o.StepCount, &o.StepsDone, &o.Proofs, &o.RejectReason, &o.CancelReason,
		&o.CreatedAt, &o.SubmittedAt, &o.CompletedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.Proofs == nil {
		o.Proofs = []string{}
	}
	return &o, nil
}
