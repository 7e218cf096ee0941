package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/models"
)

// Entry describes a single-account ledger movement.
type Entry struct {
	AccountID   uuid.UUID
	Asset       string
	Amount      decimal.Decimal
	Memo        string
	Correlation models.Correlation
}

// Settlement moves From's frozen Asset to To's available Asset and credits
// To with CreditAmount of CreditAsset, atomically.
type Settlement struct {
	From         uuid.UUID
	To           uuid.UUID
	Asset        string
	Amount       decimal.Decimal
	CreditAsset  string
	CreditAmount decimal.Decimal
	Memo         string
	Correlation  models.Correlation
}

// SettleResult carries both accounts after a settlement.
type SettleResult struct {
	From *models.Account
	To   *models.Account
}

// AssetReconciliation compares the record log with the balance for one asset.
type AssetReconciliation struct {
	Asset     string          `json:"asset"`
	Balance   decimal.Decimal `json:"balance"`
	RecordSum decimal.Decimal `json:"record_sum"`
	Drift     decimal.Decimal `json:"drift"`
}

// Reconciliation is the audit result for one account.
type Reconciliation struct {
	AccountID uuid.UUID             `json:"account_id"`
	Assets    []AssetReconciliation `json:"assets"`
	Balanced  bool                  `json:"balanced"`
}

// Service is the only component allowed to change account balances.
// Every mutation runs as one unit of work together with its fund records.
type Service interface {
	OpenAccount(ctx context.Context, id uuid.UUID, kind string) (*models.Account, error)
	Account(ctx context.Context, id uuid.UUID) (*models.Account, error)

	DebitAvailable(ctx context.Context, e Entry) (*models.Account, error)
	CreditAvailable(ctx context.Context, e Entry) (*models.Account, error)
	Freeze(ctx context.Context, e Entry) (*models.Account, error)
	Unfreeze(ctx context.Context, e Entry) (*models.Account, error)
	DebitFrozen(ctx context.Context, e Entry) (*models.Account, error)
	SettleFrozenToOther(ctx context.Context, s Settlement) (*SettleResult, error)

	Records(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.FundRecord, error)
	RecordsByCorrelation(ctx context.Context, c models.Correlation) ([]*models.FundRecord, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error)
}

type service struct {
	tx       Transactor
	accounts AccountStore
	records  RecordStore
	clock    clock.Clock
	log      *slog.Logger
}

// Option customizes the ledger service.
type Option func(*service)

// WithLogger sets the logger used for invariant violations.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock sets the clock used to stamp records.
func WithClock(c clock.Clock) Option {
	return func(s *service) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewService(tx Transactor, accounts AccountStore, records RecordStore, opts ...Option) Service {
	s := &service{
		tx:       tx,
		accounts: accounts,
		records:  records,
		clock:    clock.NewSystem(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)

// ErrInsufficientFunds is returned when available balance cannot cover a debit or freeze.
var ErrInsufficientFunds = models.ErrInsufficientFunds

const reconcileAttempts = 3

func (s *service) OpenAccount(ctx context.Context, id uuid.UUID, kind string) (*models.Account, error) {
	if kind != models.AccountKindBuyer && kind != models.AccountKindMerchant {
		return nil, fmt.Errorf("open account: unknown kind %q", kind)
	}
	now := s.clock.Now()
	a := &models.Account{
		ID:                  id,
		Kind:                kind,
		AvailablePrincipal:  decimal.Zero,
		FrozenPrincipal:     decimal.Zero,
		AvailableCommission: decimal.Zero,
		FrozenCommission:    decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, models.ErrAccountExists
		}
		return nil, fmt.Errorf("open account: %w", err)
	}
	return a, nil
}

func (s *service) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := s.accounts.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	return a, err
}

func (s *service) DebitAvailable(ctx context.Context, e Entry) (*models.Account, error) {
	e, err := normalize(e)
	if err != nil {
		return nil, err
	}
	var out *models.Account
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		acc, err := s.accounts.DebitAvailable(ctx, e.AccountID, e.Asset, e.Amount)
		if err != nil {
			return s.classify(ctx, "debit", e, models.BucketAvailable, err, models.ErrInsufficientFunds)
		}
		out = acc
		return s.records.Append(ctx,
			s.record(e, acc, models.BucketAvailable, models.DirectionOut, models.RecordKindDebit))
	})
	return out, err
}

func (s *service) CreditAvailable(ctx context.Context, e Entry) (*models.Account, error) {
	e, err := normalize(e)
	if err != nil {
		return nil, err
	}
	var out *models.Account
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		acc, err := s.accounts.CreditAvailable(ctx, e.AccountID, e.Asset, e.Amount)
		if err != nil {
			return s.classify(ctx, "credit", e, models.BucketAvailable, err, nil)
		}
		out = acc
		return s.records.Append(ctx,
			s.record(e, acc, models.BucketAvailable, models.DirectionIn, models.RecordKindCredit))
	})
	return out, err
}

func (s *service) Freeze(ctx context.Context, e Entry) (*models.Account, error) {
	e, err := normalize(e)
	if err != nil {
		return nil, err
	}
	var out *models.Account
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		acc, err := s.accounts.Freeze(ctx, e.AccountID, e.Asset, e.Amount)
		if err != nil {
			return s.classify(ctx, "freeze", e, models.BucketAvailable, err, models.ErrInsufficientFunds)
		}
		out = acc
		return s.records.Append(ctx,
			s.record(e, acc, models.BucketAvailable, models.DirectionOut, models.RecordKindFreeze),
			s.record(e, acc, models.BucketFrozen, models.DirectionIn, models.RecordKindFreeze),
		)
	})
	return out, err
}

func (s *service) Unfreeze(ctx context.Context, e Entry) (*models.Account, error) {
	e, err := normalize(e)
	if err != nil {
		return nil, err
	}
	var out *models.Account
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		acc, err := s.accounts.Unfreeze(ctx, e.AccountID, e.Asset, e.Amount)
		if err != nil {
			return s.classify(ctx, "unfreeze", e, models.BucketFrozen, err, invariant)
		}
		out = acc
		return s.records.Append(ctx,
			s.record(e, acc, models.BucketFrozen, models.DirectionOut, models.RecordKindUnfreeze),
			s.record(e, acc, models.BucketAvailable, models.DirectionIn, models.RecordKindUnfreeze),
		)
	})
	return out, err
}

func (s *service) DebitFrozen(ctx context.Context, e Entry) (*models.Account, error) {
	e, err := normalize(e)
	if err != nil {
		return nil, err
	}
	var out *models.Account
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		acc, err := s.accounts.DebitFrozen(ctx, e.AccountID, e.Asset, e.Amount)
		if err != nil {
			return s.classify(ctx, "debit_frozen", e, models.BucketFrozen, err, invariant)
		}
		out = acc
		return s.records.Append(ctx,
			s.record(e, acc, models.BucketFrozen, models.DirectionOut, models.RecordKindDebitFrozen))
	})
	return out, err
}

// SettleFrozenToOther performs the three balance changes of an order
// settlement in one unit of work. Rows are touched in id order so two
// settlements sharing accounts cannot deadlock.
func (s *service) SettleFrozenToOther(ctx context.Context, st Settlement) (*SettleResult, error) {
	if st.From == st.To {
		return nil, models.ErrSameAccount
	}
	debit, err := normalize(Entry{AccountID: st.From, Asset: st.Asset, Amount: st.Amount, Memo: st.Memo, Correlation: st.Correlation})
	if err != nil {
		return nil, err
	}
	credit, err := normalize(Entry{AccountID: st.To, Asset: st.Asset, Amount: st.Amount, Memo: st.Memo, Correlation: st.Correlation})
	if err != nil {
		return nil, err
	}
	bonus, err := normalize(Entry{AccountID: st.To, Asset: st.CreditAsset, Amount: st.CreditAmount, Memo: st.Memo, Correlation: st.Correlation})
	if err != nil {
		return nil, err
	}

	res := &SettleResult{}
	steps := []struct {
		id  uuid.UUID
		run func(ctx context.Context) error
	}{
		{st.From, func(ctx context.Context) error {
			acc, err := s.accounts.DebitFrozen(ctx, debit.AccountID, debit.Asset, debit.Amount)
			if err != nil {
				return s.classify(ctx, "settle", debit, models.BucketFrozen, err, invariant)
			}
			res.From = acc
			return s.records.Append(ctx,
				s.record(debit, acc, models.BucketFrozen, models.DirectionOut, models.RecordKindSettleOut))
		}},
		{st.To, func(ctx context.Context) error {
			if _, err := s.accounts.CreditAvailable(ctx, credit.AccountID, credit.Asset, credit.Amount); err != nil {
				return s.classify(ctx, "settle", credit, models.BucketAvailable, err, nil)
			}
			acc, err := s.accounts.CreditAvailable(ctx, bonus.AccountID, bonus.Asset, bonus.Amount)
			if err != nil {
				return s.classify(ctx, "settle", bonus, models.BucketAvailable, err, nil)
			}
			res.To = acc
			principalRec := s.record(credit, acc, models.BucketAvailable, models.DirectionIn, models.RecordKindSettleIn)
			if credit.Asset == bonus.Asset {
				// Both credits hit the same balance; the first record shows the intermediate value.
				principalRec.BalanceAfter = acc.Available(credit.Asset).Sub(bonus.Amount)
			}
			return s.records.Append(ctx, principalRec,
				s.record(bonus, acc, models.BucketAvailable, models.DirectionIn, models.RecordKindSettleIn))
		}},
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].id.String() < steps[j].id.String() })

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, step := range steps {
			if err := step.run(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) Records(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.FundRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.records.ListByAccount(ctx, accountID, limit, offset)
}

func (s *service) RecordsByCorrelation(ctx context.Context, c models.Correlation) ([]*models.FundRecord, error) {
	if c.IsZero() {
		return nil, nil
	}
	return s.records.ListByCorrelation(ctx, c)
}

// Reconcile compares the signed record total of each asset with the current
// balance. The account is read before and after summing; a change in between
// means a concurrent mutation, and the comparison is repeated.
func (s *service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		before, err := s.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		sums, err := s.records.SumByAccount(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		after, err := s.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !sameBalances(before, after) {
			continue
		}
		rec := &Reconciliation{AccountID: accountID, Balanced: true}
		for _, asset := range []string{models.AssetPrincipal, models.AssetCommission} {
			sum := sums[asset]
			bal := after.Total(asset)
			drift := bal.Sub(sum)
			if !drift.IsZero() {
				rec.Balanced = false
			}
			rec.Assets = append(rec.Assets, AssetReconciliation{Asset: asset, Balance: bal, RecordSum: sum, Drift: drift})
		}
		if !rec.Balanced {
			s.log.Error("fund records do not reconcile", "account_id", accountID, "assets", rec.Assets)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("reconcile %s: balances kept changing: %w", accountID, models.ErrStoreUnavailable)
}

// --- helpers ---

// invariant marks guard failures that indicate a bookkeeping bug.
var invariant = models.ErrInvariantViolation

func normalize(e Entry) (Entry, error) {
	if !models.ValidAsset(e.Asset) {
		return e, models.ErrInvalidAsset
	}
	if e.Amount.IsNegative() {
		return e, models.ErrInvalidAmount
	}
	e.Amount = models.Round(e.Amount)
	return e, nil
}

// classify turns a store failure into the typed ledger error. A guard miss is
// diagnosed by re-reading the account: a missing row is ErrAccountNotFound,
// otherwise the guard itself failed and onGuard is returned. A check
// violation means the row exists and the statement aborted the transaction,
// so it is classified without another read.
func (s *service) classify(ctx context.Context, op string, e Entry, bucket string, err error, onGuard error) error {
	if errors.Is(err, models.ErrCheckViolation) {
		return s.guardFailed(op, e, bucket, err, onGuard)
	}
	if !errors.Is(err, models.ErrConditionNotMet) && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, e.AccountID, err)
	}
	if _, getErr := s.accounts.Get(ctx, e.AccountID); getErr != nil {
		if errors.Is(getErr, models.ErrNotFound) {
			return models.ErrAccountNotFound
		}
		return fmt.Errorf("%s %s: %w", op, e.AccountID, getErr)
	}
	return s.guardFailed(op, e, bucket, err, onGuard)
}

func (s *service) guardFailed(op string, e Entry, bucket string, err error, onGuard error) error {
	switch onGuard {
	case nil:
		return fmt.Errorf("%s %s: %w", op, e.AccountID, err)
	case invariant:
		v := &models.InvariantViolationError{Op: op, AccountID: e.AccountID, Asset: e.Asset, Bucket: bucket, Amount: e.Amount}
		s.log.Error("ledger invariant violation",
			"op", op, "account_id", e.AccountID, "asset", e.Asset, "bucket", bucket,
			"amount", e.Amount.StringFixed(models.MoneyScale), "memo", e.Memo)
		return v
	default:
		return onGuard
	}
}

func (s *service) record(e Entry, acc *models.Account, bucket, direction, kind string) *models.FundRecord {
	amount := e.Amount
	if direction == models.DirectionOut {
		amount = amount.Neg()
	}
	balance := acc.Available(e.Asset)
	if bucket == models.BucketFrozen {
		balance = acc.Frozen(e.Asset)
	}
	return &models.FundRecord{
		ID:           uuid.New(),
		AccountID:    e.AccountID,
		Asset:        e.Asset,
		Bucket:       bucket,
		Direction:    direction,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balance,
		Memo:         e.Memo,
		OrderID:      e.Correlation.OrderID,
		WithdrawalID: e.Correlation.WithdrawalID,
		TaskID:       e.Correlation.TaskID,
		CreatedAt:    s.clock.Now(),
	}
}

func sameBalances(a, b *models.Account) bool {
	return a.AvailablePrincipal.Equal(b.AvailablePrincipal) &&
		a.FrozenPrincipal.Equal(b.FrozenPrincipal) &&
		a.AvailableCommission.Equal(b.AvailableCommission) &&
		a.FrozenCommission.Equal(b.FrozenCommission)
}
