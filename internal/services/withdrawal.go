package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/notify"
)

const (
	memoWithdrawalHold     = "withdrawal hold"
	memoWithdrawalPayout   = "withdrawal payout"
	memoWithdrawalReturned = "withdrawal rejected: hold returned"
)

type WithdrawalInput struct {
	Asset         string
	Amount        decimal.Decimal
	PayoutDetails json.RawMessage
	// ClientRef makes a retried request return the original withdrawal.
	ClientRef string
}

// WithdrawalLifecycle freezes funds on request and, after admin review,
// either pays them out (debit frozen) or returns them (unfreeze).
type WithdrawalLifecycle struct {
	uow         UnitOfWork
	withdrawals WithdrawalStore
	ledger      ledger.Service
	fees        FeePolicy
	payout      *PayoutValidator
	notifier    notify.Notifier
	clock       clock.Clock
	log         *slog.Logger
}

func NewWithdrawalLifecycle(uow UnitOfWork, withdrawals WithdrawalStore, l ledger.Service, fees FeePolicy, payout *PayoutValidator, n notify.Notifier, clk clock.Clock, log *slog.Logger) *WithdrawalLifecycle {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if n == nil {
		n = notify.Discard
	}
	return &WithdrawalLifecycle{uow: uow, withdrawals: withdrawals, ledger: l, fees: fees, payout: payout, notifier: n, clock: clk, log: defaultLogger(log)}
}

// Request freezes the requested amount and records a pending withdrawal in
// the same unit of work. Nothing is written when the freeze fails.
func (w *WithdrawalLifecycle) Request(ctx context.Context, actor models.Actor, in WithdrawalInput) (*models.Withdrawal, error) {
	if _, ok := models.AccountKindForRole(actor.Role); !ok {
		return nil, models.ErrForbidden
	}
	if !models.ValidAsset(in.Asset) {
		return nil, models.ErrInvalidAsset
	}
	ref := strings.TrimSpace(in.ClientRef)
	if ref != "" {
		existing, err := w.withdrawals.GetByClientRef(ctx, actor.ID, ref)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("lookup client ref: %w", err)
		}
	}
	amount := models.Round(in.Amount)
	fee, net, err := w.fees.Quote(amount)
	if err != nil {
		return nil, err
	}
	if w.payout != nil {
		if err := w.payout.Validate(in.PayoutDetails); err != nil {
			return nil, err
		}
	}

	wd := &models.Withdrawal{
		ID:              uuid.New(),
		AccountID:       actor.ID,
		Asset:           in.Asset,
		RequestedAmount: amount,
		Fee:             fee,
		NetAmount:       net,
		Status:          models.WithdrawalStatusPending,
		PayoutDetails:   in.PayoutDetails,
		CreatedAt:       w.clock.Now(),
	}
	if ref != "" {
		wd.ClientRef = &ref
	}
	err = w.uow.WithTx(ctx, func(ctx context.Context) error {
		if _, err := w.ledger.Freeze(ctx, ledger.Entry{
			AccountID:   actor.ID,
			Asset:       in.Asset,
			Amount:      amount,
			Memo:        memoWithdrawalHold,
			Correlation: models.ForWithdrawal(wd.ID),
		}); err != nil {
			return err
		}
		return w.withdrawals.Create(ctx, wd)
	})
	if errors.Is(err, models.ErrDuplicate) && wd.ClientRef != nil {
		// A concurrent retry with the same ref won; its hold is the only one.
		return w.withdrawals.GetByClientRef(ctx, actor.ID, ref)
	}
	if err != nil {
		return nil, err
	}
	w.log.Info("withdrawal requested", "withdrawal_id", wd.ID, "account_id", wd.AccountID,
		"asset", wd.Asset, "amount", wd.RequestedAmount.String(), "fee", wd.Fee.String())
	publish(ctx, w.notifier, w.log, w.event(notify.EventWithdrawalRequested, wd))
	return wd, nil
}

// Approve pays the hold out: the frozen amount leaves the system.
func (w *WithdrawalLifecycle) Approve(ctx context.Context, reviewer models.Actor, id uuid.UUID) (*models.Withdrawal, error) {
	return w.review(ctx, reviewer, id, models.WithdrawalStatusCompleted, "", func(ctx context.Context, wd *models.Withdrawal) error {
		_, err := w.ledger.DebitFrozen(ctx, ledger.Entry{
			AccountID:   wd.AccountID,
			Asset:       wd.Asset,
			Amount:      wd.RequestedAmount,
			Memo:        memoWithdrawalPayout,
			Correlation: models.ForWithdrawal(wd.ID),
		})
		return err
	})
}

// Reject returns the hold to the account's available balance.
func (w *WithdrawalLifecycle) Reject(ctx context.Context, reviewer models.Actor, id uuid.UUID, reason string) (*models.Withdrawal, error) {
	return w.review(ctx, reviewer, id, models.WithdrawalStatusRejected, reason, func(ctx context.Context, wd *models.Withdrawal) error {
		_, err := w.ledger.Unfreeze(ctx, ledger.Entry{
			AccountID:   wd.AccountID,
			Asset:       wd.Asset,
			Amount:      wd.RequestedAmount,
			Memo:        memoWithdrawalReturned,
			Correlation: models.ForWithdrawal(wd.ID),
		})
		return err
	})
}

// review claims the pending row with a guarded status update before any
// ledger call, so a second review fails without touching balances.
func (w *WithdrawalLifecycle) review(ctx context.Context, reviewer models.Actor, id uuid.UUID, to, reason string, settle func(ctx context.Context, wd *models.Withdrawal) error) (*models.Withdrawal, error) {
	if !reviewer.IsAdmin() {
		return nil, models.ErrForbidden
	}
	var out *models.Withdrawal
	err := w.uow.WithTx(ctx, func(ctx context.Context) error {
		wd, err := w.withdrawals.Review(ctx, id, to, reviewer.ID, reason)
		if errors.Is(err, models.ErrConditionNotMet) {
			if _, getErr := w.withdrawals.Get(ctx, id); errors.Is(getErr, models.ErrNotFound) {
				return models.ErrWithdrawalNotFound
			}
			return models.ErrAlreadyReviewed
		}
		if err != nil {
			return fmt.Errorf("review withdrawal %s: %w", id, err)
		}
		out = wd
		return settle(ctx, wd)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			w.log.Error("withdrawal review aborted, left pending for investigation", "withdrawal_id", id, "error", err)
		}
		return nil, err
	}
	w.log.Info("withdrawal reviewed", "withdrawal_id", id, "status", out.Status, "reviewer_id", reviewer.ID)
	typ := notify.EventWithdrawalCompleted
	if to == models.WithdrawalStatusRejected {
		typ = notify.EventWithdrawalRejected
	}
	publish(ctx, w.notifier, w.log, w.event(typ, out))
	return out, nil
}

func (w *WithdrawalLifecycle) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Withdrawal, error) {
	wd, err := w.withdrawals.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	if wd.AccountID != actor.ID && !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return wd, nil
}

func (w *WithdrawalLifecycle) ListMine(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.Withdrawal, error) {
	limit, offset = pageBounds(limit, offset)
	return w.withdrawals.ListByAccount(ctx, actor.ID, limit, offset)
}

func (w *WithdrawalLifecycle) ListPending(ctx context.Context, reviewer models.Actor, limit, offset int) ([]*models.Withdrawal, error) {
	if !reviewer.IsAdmin() {
		return nil, models.ErrForbidden
	}
	limit, offset = pageBounds(limit, offset)
	return w.withdrawals.ListByStatus(ctx, models.WithdrawalStatusPending, limit, offset)
}

func (w *WithdrawalLifecycle) event(typ string, wd *models.Withdrawal) notify.Event {
	return notify.Event{
		Type:         typ,
		Recipients:   []uuid.UUID{wd.AccountID},
		WithdrawalID: &wd.ID,
		Asset:        wd.Asset,
		Amount:       wd.NetAmount,
		Reason:       wd.RejectReason,
		OccurredAt:   w.clock.Now(),
	}
}
