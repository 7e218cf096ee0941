package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

const recordColumns = `id, account_id, asset, bucket, direction, kind, amount::text, balance_after::text,
	memo, order_id, withdrawal_id, task_id, created_at`

// FundRecordRepo is the append-only record log. Rows are never updated;
// seq gives a stable order for records written in the same instant.
type FundRecordRepo struct {
	pool *pgxpool.Pool
}

func NewFundRecordRepo(pool *pgxpool.Pool) *FundRecordRepo {
	return &FundRecordRepo{pool: pool}
}

func (r *FundRecordRepo) Append(ctx context.Context, records ...*models.FundRecord) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(`
			INSERT INTO fund_records (id, account_id, asset, bucket, direction, kind, amount, balance_after,
				memo, order_id, withdrawal_id, task_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12, $13)
		`, rec.ID, rec.AccountID, rec.Asset, rec.Bucket, rec.Direction, rec.Kind, rec.Amount.String(),
			rec.BalanceAfter.String(), rec.Memo, rec.OrderID, rec.WithdrawalID, rec.TaskID, rec.CreatedAt)
	}
	br := conn(ctx, r.pool).SendBatch(ctx, b)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// ListByAccount returns newest first.
func (r *FundRecordRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.FundRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+recordColumns+`
		FROM fund_records WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	return collectRecords(rows)
}

// ListByCorrelation returns records carrying every id set in c, oldest first.
func (r *FundRecordRepo) ListByCorrelation(ctx context.Context, c models.Correlation) ([]*models.FundRecord, error) {
	if c.IsZero() {
		return nil, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+recordColumns+`
		FROM fund_records
		WHERE ($1::uuid IS NULL OR order_id = $1)
		  AND ($2::uuid IS NULL OR withdrawal_id = $2)
		  AND ($3::uuid IS NULL OR task_id = $3)
		ORDER BY seq ASC
	`, c.OrderID, c.WithdrawalID, c.TaskID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectRecords(rows)
}

func (r *FundRecordRepo) SumByAccount(ctx context.Context, accountID uuid.UUID) (map[string]decimal.Decimal, error) {
	sums := map[string]decimal.Decimal{
		models.AssetPrincipal:  decimal.Zero,
		models.AssetCommission: decimal.Zero,
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT asset, COALESCE(SUM(amount), 0)::text
		FROM fund_records WHERE account_id = $1
		GROUP BY asset
	`, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			asset string
			sum   decimal.Decimal
		)
		if err := rows.Scan(&asset, num(&sum)); err != nil {
			return nil, err
		}
		sums[asset] = sum
	}
	return sums, mapError(rows.Err())
}

func collectRecords(rows pgx.Rows) ([]*models.FundRecord, error) {
	defer rows.Close()
	var list []*models.FundRecord
	for rows.Next() {
		var rec models.FundRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Asset, &rec.Bucket, &rec.Direction, &rec.Kind,
			num(&rec.Amount), num(&rec.BalanceAfter), &rec.Memo, &rec.OrderID, &rec.WithdrawalID,
			&rec.TaskID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &rec)
	}
	return list, mapError(rows.Err())
}
