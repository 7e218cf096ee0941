package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/notify"
)

const (
	memoOrderSettlement = "order settlement"
	memoOrderRejected   = "order rejected: collateral returned"
	memoOrderCancelled  = "order cancelled: collateral returned"
)

// Settlement drives orders through review. Each transition writes the order
// status, moves money through the ledger and adjusts the task counter in a
// single unit of work; notifications go out after it commits.
type Settlement struct {
	uow      UnitOfWork
	orders   OrderStore
	tasks    TaskStore
	ledger   ledger.Service
	notifier notify.Notifier
	clock    clock.Clock
	log      *slog.Logger
}

func NewSettlement(uow UnitOfWork, orders OrderStore, tasks TaskStore, l ledger.Service, n notify.Notifier, clk clock.Clock, log *slog.Logger) *Settlement {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if n == nil {
		n = notify.Discard
	}
	return &Settlement{uow: uow, orders: orders, tasks: tasks, ledger: l, notifier: n, clock: clk, log: defaultLogger(log)}
}

// Approve pays the buyer: the merchant's frozen principal moves to the
// buyer's available principal and the commission is credited alongside.
func (s *Settlement) Approve(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*models.Order, error) {
	var (
		out           *models.Order
		taskCompleted bool
	)
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.load(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.MerchantID != actor.ID && !actor.IsAdmin() {
			return models.ErrForbidden
		}
		if err := s.lockTask(ctx, cur.TaskID); err != nil {
			return err
		}
		out, err = s.transition(ctx, orderID, []string{models.OrderStatusSubmitted}, models.OrderStatusApproved, "")
		if err != nil {
			return err
		}
		if _, err := s.ledger.SettleFrozenToOther(ctx, ledger.Settlement{
			From:         out.MerchantID,
			To:           out.BuyerID,
			Asset:        models.AssetPrincipal,
			Amount:       out.PrincipalAmount,
			CreditAsset:  models.AssetCommission,
			CreditAmount: out.CommissionAmount,
			Memo:         memoOrderSettlement,
			Correlation:  models.ForOrder(out.ID, out.TaskID),
		}); err != nil {
			return err
		}
		taskCompleted, err = s.tasks.CompleteIfExhausted(ctx, out.TaskID)
		return err
	})
	if err != nil {
		s.logFailure("approve", orderID, actor, err)
		return nil, err
	}

	s.log.Info("order approved", "order_id", out.ID, "buyer_id", out.BuyerID, "merchant_id", out.MerchantID,
		"principal", out.PrincipalAmount.String(), "commission", out.CommissionAmount.String())
	publish(ctx, s.notifier, s.log, s.event(notify.EventOrderApproved, out, ""))
	if taskCompleted {
		publish(ctx, s.notifier, s.log, notify.Event{
			Type:       notify.EventTaskCompleted,
			Recipients: []uuid.UUID{out.MerchantID},
			TaskID:     &out.TaskID,
			OccurredAt: s.clock.Now(),
		})
	}
	return out, nil
}

// Reject returns the order's frozen collateral to the merchant's available
// principal and puts the slot back into the task's pool.
func (s *Settlement) Reject(ctx context.Context, orderID uuid.UUID, actor models.Actor, reason string) (*models.Order, error) {
	out, err := s.close(ctx, orderID, actor, closeSpec{
		op:        "reject",
		from:      []string{models.OrderStatusSubmitted},
		to:        models.OrderStatusRejected,
		memo:      memoOrderRejected,
		authorize: func(o *models.Order) bool { return o.MerchantID == actor.ID || actor.IsAdmin() },
	}, reason)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.notifier, s.log, s.event(notify.EventOrderRejected, out, reason))
	return out, nil
}

// Cancel has the same money effect as Reject and is open to the buyer while
// the order is pending or submitted. The task counter is decremented
// regardless of the task's current status.
func (s *Settlement) Cancel(ctx context.Context, orderID uuid.UUID, actor models.Actor, reason string) (*models.Order, error) {
	out, err := s.close(ctx, orderID, actor, closeSpec{
		op:        "cancel",
		from:      models.OpenOrderStatuses,
		to:        models.OrderStatusCancelled,
		memo:      memoOrderCancelled,
		authorize: func(o *models.Order) bool { return o.BuyerID == actor.ID || actor.IsAdmin() },
	}, reason)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.notifier, s.log, s.event(notify.EventOrderCancelled, out, reason))
	return out, nil
}

type closeSpec struct {
	op        string
	from      []string
	to        string
	memo      string
	authorize func(o *models.Order) bool
}

func (s *Settlement) close(ctx context.Context, orderID uuid.UUID, actor models.Actor, spec closeSpec, reason string) (*models.Order, error) {
	var out *models.Order
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.load(ctx, orderID)
		if err != nil {
			return err
		}
		if !spec.authorize(cur) {
			return models.ErrForbidden
		}
		if err := s.lockTask(ctx, cur.TaskID); err != nil {
			return err
		}
		out, err = s.transition(ctx, orderID, spec.from, spec.to, reason)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Unfreeze(ctx, ledger.Entry{
			AccountID:   out.MerchantID,
			Asset:       models.AssetPrincipal,
			Amount:      out.PrincipalAmount,
			Memo:        spec.memo,
			Correlation: models.ForOrder(out.ID, out.TaskID),
		}); err != nil {
			return err
		}
		if _, err := s.tasks.ReleaseClaim(ctx, out.TaskID, false); err != nil {
			if errors.Is(err, models.ErrConditionNotMet) {
				return fmt.Errorf("task %s has no claimed slot to return: %w", out.TaskID, models.ErrInvariantViolation)
			}
			return fmt.Errorf("return slot: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(spec.op, orderID, actor, err)
		return nil, err
	}
	s.log.Info("order closed", "op", spec.op, "order_id", out.ID, "merchant_id", out.MerchantID,
		"returned", out.PrincipalAmount.String())
	return out, nil
}

func (s *Settlement) transition(ctx context.Context, orderID uuid.UUID, from []string, to, reason string) (*models.Order, error) {
	o, err := s.orders.Transition(ctx, orderID, from, to, reason)
	if errors.Is(err, models.ErrConditionNotMet) {
		return nil, models.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("order %s -> %s: %w", orderID, to, err)
	}
	return o, nil
}

// lockTask makes settlements of one task run one after another, so the last
// of them sees every sibling order closed when it checks for completion.
func (s *Settlement) lockTask(ctx context.Context, taskID uuid.UUID) error {
	if _, err := s.tasks.Lock(ctx, taskID); err != nil {
		return fmt.Errorf("lock task %s: %w", taskID, err)
	}
	return nil
}

func (s *Settlement) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrOrderNotFound
	}
	return o, err
}

// logFailure escalates invariant violations; the order stays in its prior
// status for manual investigation.
func (s *Settlement) logFailure(op string, orderID uuid.UUID, actor models.Actor, err error) {
	if errors.Is(err, models.ErrInvariantViolation) {
		s.log.Error("settlement aborted, order left unchanged for investigation",
			"op", op, "order_id", orderID, "actor_id", actor.ID, "error", err)
	}
}

func (s *Settlement) event(typ string, o *models.Order, reason string) notify.Event {
	e := notify.Event{
		Type:       typ,
		Recipients: []uuid.UUID{o.BuyerID, o.MerchantID},
		OrderID:    &o.ID,
		TaskID:     &o.TaskID,
		Asset:      models.AssetPrincipal,
		Amount:     o.PrincipalAmount,
		Reason:     reason,
		OccurredAt: s.clock.Now(),
	}
	if typ == notify.EventOrderApproved {
		e.Commission = o.CommissionAmount
	}
	return e
}
