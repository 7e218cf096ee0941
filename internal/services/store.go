package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/notify"
)

// UnitOfWork runs fn atomically; nested calls join the outer unit.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TaskStore is the minimal task repository. Guarded methods return
// models.ErrConditionNotMet when their WHERE clause matched no row.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, status string, limit, offset int) ([]*models.Task, error)
	Activate(ctx context.Context, id uuid.UUID, collateral decimal.Decimal) (*models.Task, error)
	TryClaim(ctx context.Context, id uuid.UUID) (*models.Task, error)
	// Lock takes the task row for the rest of the unit of work.
	Lock(ctx context.Context, id uuid.UUID) (*models.Task, error)
	// ReleaseClaim returns a slot. Collateral is restored to the unclaimed
	// pool only when asked and only while the task is active; the returned
	// task tells the caller which case applied.
	ReleaseClaim(ctx context.Context, id uuid.UUID, restoreCollateral bool) (*models.Task, error)
	AddCollateral(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Task, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Task, decimal.Decimal, error)
	CompleteIfExhausted(ctx context.Context, id uuid.UUID) (bool, error)
}

// OrderStore is the minimal order repository.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*models.Order, error)
	ListByTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]*models.Order, error)
	RecordStep(ctx context.Context, id, buyerID uuid.UUID, index int, proof string) (*models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from []string, to, reason string) (*models.Order, error)
}

// WithdrawalStore is the minimal withdrawal repository.
type WithdrawalStore interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	GetByClientRef(ctx context.Context, accountID uuid.UUID, ref string) (*models.Withdrawal, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Withdrawal, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Withdrawal, error)
	Review(ctx context.Context, id uuid.UUID, to string, reviewerID uuid.UUID, reason string) (*models.Withdrawal, error)
}

// publish hands a committed outcome to the notifier. Delivery problems never
// undo the financial result, so they are only logged.
func publish(ctx context.Context, n notify.Notifier, log *slog.Logger, e notify.Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, e); err != nil {
		log.Warn("notification not queued", "type", e.Type, "key", e.Key(), "error", err)
	}
}

func defaultLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
