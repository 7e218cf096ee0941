package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskbazaar/backend/internal/models"
)

const withdrawalColumns = `id, account_id, asset, requested_amount::text, fee::text, net_amount::text, status,
	payout_details, client_ref, reviewer_id, reject_reason, created_at, reviewed_at`

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

// Create fails with models.ErrDuplicate when the account already used the
// client reference.
func (r *WithdrawalRepo) Create(ctx context.Context, w *models.Withdrawal) error {
	details := []byte(w.PayoutDetails)
	if len(details) == 0 {
		details = []byte("{}")
	}
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO withdrawals (id, account_id, asset, requested_amount, fee, net_amount, status,
			payout_details, client_ref, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8::jsonb, $9, $10)
		RETURNING created_at
	`, w.ID, w.AccountID, w.Asset, w.RequestedAmount.String(), w.Fee.String(), w.NetAmount.String(),
		w.Status, string(details), w.ClientRef, w.CreatedAt).Scan(&w.CreatedAt)
	return mapError(err)
}

func (r *WithdrawalRepo) Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return w, nil
}

func (r *WithdrawalRepo) GetByClientRef(ctx context.Context, accountID uuid.UUID, ref string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE account_id = $1 AND client_ref = $2`, accountID, ref))
	if err != nil {
		return nil, mapError(err)
	}
	return w, nil
}

func (r *WithdrawalRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Withdrawal, error) {
	return r.list(ctx, `account_id = $1`, accountID, limit, offset)
}

func (r *WithdrawalRepo) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Withdrawal, error) {
	return r.list(ctx, `status = $1`, status, limit, offset)
}

// Review records the decision if the withdrawal is still pending.
func (r *WithdrawalRepo) Review(ctx context.Context, id uuid.UUID, to string, reviewerID uuid.UUID, reason string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE withdrawals
		SET status = $2, reviewer_id = $3, reject_reason = $4, reviewed_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+withdrawalColumns, id, to, reviewerID, reason))
	if err != nil {
		return nil, guarded(err)
	}
	return w, nil
}

func (r *WithdrawalRepo) list(ctx context.Context, where string, arg any, limit, offset int) ([]*models.Withdrawal, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, arg, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, mapError(rows.Err())
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var (
		w       models.Withdrawal
		details []byte
	)
	err := row.Scan(&w.ID, &w.AccountID, &w.Asset, num(&w.RequestedAmount), num(&w.Fee), num(&w.NetAmount),
		&w.Status, &details, &w.ClientRef, &w.ReviewerID, &w.RejectReason, &w.CreatedAt, &w.ReviewedAt)
	if err != nil {
		return nil, err
	}
	w.PayoutDetails = details
	return &w, nil
}
