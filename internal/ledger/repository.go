package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

// Transactor runs fn as one unit of work. Calls nested inside fn join the
// outer unit; any error returned by fn rolls the whole unit back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountStore mutates balances with single guarded statements. Guarded
// methods return models.ErrConditionNotMet when the guard (or the id) matched
// no row; they never read-then-write.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// DebitAvailable: available -= amount WHERE available >= amount.
	DebitAvailable(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error)
	// CreditAvailable: available += amount.
	CreditAvailable(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error)
	// Freeze: available -= amount, frozen += amount WHERE available >= amount.
	Freeze(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error)
	// Unfreeze: frozen -= amount, available += amount WHERE frozen >= amount.
	Unfreeze(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error)
	// DebitFrozen: frozen -= amount WHERE frozen >= amount.
	DebitFrozen(ctx context.Context, id uuid.UUID, asset string, amount decimal.Decimal) (*models.Account, error)
}

// RecordStore is the append-only fund record log.
type RecordStore interface {
	Append(ctx context.Context, records ...*models.FundRecord) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.FundRecord, error)
	ListByCorrelation(ctx context.Context, c models.Correlation) ([]*models.FundRecord, error)
	// SumByAccount returns the signed record total per asset.
	SumByAccount(ctx context.Context, accountID uuid.UUID) (map[string]decimal.Decimal, error)
}
