package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
)

const memoDeposit = "deposit"

// AccountService exposes balances and the fund record log to their owners
// and lets admins post deposits.
type AccountService struct {
	ledger ledger.Service
}

func NewAccountService(l ledger.Service) *AccountService {
	return &AccountService{ledger: l}
}

func (s *AccountService) Get(ctx context.Context, actor models.Actor, accountID uuid.UUID) (*models.Account, error) {
	if accountID != actor.ID && !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return s.ledger.Account(ctx, accountID)
}

func (s *AccountService) Records(ctx context.Context, actor models.Actor, accountID uuid.UUID, limit, offset int) ([]*models.FundRecord, error) {
	if accountID != actor.ID && !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return s.ledger.Records(ctx, accountID, limit, offset)
}

// Deposit credits an account after an external top-up was confirmed.
func (s *AccountService) Deposit(ctx context.Context, admin models.Actor, accountID uuid.UUID, asset string, amount decimal.Decimal, memo string) (*models.Account, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	memo = strings.TrimSpace(memo)
	if memo == "" {
		memo = memoDeposit
	}
	return s.ledger.CreditAvailable(ctx, ledger.Entry{AccountID: accountID, Asset: asset, Amount: amount, Memo: memo})
}

// CorrelatedRecords returns every fund record written for an order, task or
// withdrawal, oldest first. Callers retrying a settlement use it to see
// whether money already moved.
func (s *AccountService) CorrelatedRecords(ctx context.Context, admin models.Actor, c models.Correlation) ([]*models.FundRecord, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if c.IsZero() {
		return nil, models.ErrInvalidID
	}
	return s.ledger.RecordsByCorrelation(ctx, c)
}

func (s *AccountService) Reconcile(ctx context.Context, admin models.Actor, accountID uuid.UUID) (*ledger.Reconciliation, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return s.ledger.Reconcile(ctx, accountID)
}
