package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

type txKey struct{}

// querier is what pgxpool.Pool and pgx.Tx have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TxManager opens database transactions and carries them in the context so
// every repository call made with that context joins the same transaction.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx runs fn in a transaction. Nested calls join the outer one.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return mapError(tx.Commit(ctx))
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// mapError translates driver errors into the store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", models.ErrDuplicate, pgErr.ConstraintName)
		case "22P02":
			return models.ErrInvalidID
		case "23514":
			return fmt.Errorf("%w: %s", models.ErrCheckViolation, pgErr.ConstraintName)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", models.ErrStoreUnavailable, pgErr.Message)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

// guarded maps "no row matched" on a guarded UPDATE ... RETURNING to
// models.ErrConditionNotMet.
func guarded(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrConditionNotMet
	}
	return mapError(err)
}

// numeric scans a numeric column selected as ::text into a decimal.
type numeric struct{ dst *decimal.Decimal }

func num(d *decimal.Decimal) numeric { return numeric{dst: d} }

func (n numeric) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.dst = decimal.Zero
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", v, err)
		}
		*n.dst = d
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", v, err)
		}
		*n.dst = d
	default:
		return fmt.Errorf("parse numeric: unsupported type %T", src)
	}
	return nil
}
