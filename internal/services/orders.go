package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
)

// OrderService opens orders from claims and records the buyer's proof steps.
type OrderService struct {
	uow    UnitOfWork
	claims *ClaimCoordinator
	orders OrderStore
	tasks  TaskStore
	ledger ledger.Service
	clock  clock.Clock
	log    *slog.Logger
}

func NewOrderService(uow UnitOfWork, claims *ClaimCoordinator, orders OrderStore, tasks TaskStore, l ledger.Service, clk clock.Clock, log *slog.Logger) *OrderService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &OrderService{uow: uow, claims: claims, orders: orders, tasks: tasks, ledger: l, clock: clk, log: defaultLogger(log)}
}

// Open claims one slot of the task and creates a pending order for it.
// Claim and order creation are separate units of work; when the order cannot
// be created the slot is released again.
func (s *OrderService) Open(ctx context.Context, buyer models.Actor, taskID uuid.UUID) (*models.Order, error) {
	if buyer.Role != models.RoleBuyer {
		return nil, models.ErrForbidden
	}
	if _, err := s.ledger.Account(ctx, buyer.ID); err != nil {
		return nil, err
	}

	granted, err := s.claims.Claim(ctx, taskID, buyer.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	o := &models.Order{
		ID:               uuid.New(),
		TaskID:           granted.TaskID,
		BuyerID:          buyer.ID,
		MerchantID:       granted.MerchantID,
		Status:           models.OrderStatusPending,
		PrincipalAmount:  granted.PrincipalAmount,
		CommissionAmount: granted.CommissionAmount,
		StepCount:        granted.StepCount,
		Proofs:           []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	createErr := s.uow.WithTx(ctx, func(ctx context.Context) error {
		return s.orders.Create(ctx, o)
	})
	if createErr == nil {
		s.log.Info("order opened", "order_id", o.ID, "task_id", o.TaskID, "buyer_id", o.BuyerID,
			"claimed", granted.ClaimedCount, "capacity", granted.Capacity)
		return o, nil
	}

	if err := s.claims.Release(context.WithoutCancel(ctx), taskID); err != nil {
		s.log.Error("claimed slot could not be released", "task_id", taskID, "buyer_id", buyer.ID,
			"create_error", createErr, "error", err)
	}
	if errors.Is(createErr, models.ErrDuplicate) {
		return nil, models.ErrOrderExists
	}
	return nil, fmt.Errorf("create order: %w", createErr)
}

// SubmitStep stores the proof for step index. Steps must arrive in order;
// the last one moves the order to submitted.
func (s *OrderService) SubmitStep(ctx context.Context, buyer models.Actor, orderID uuid.UUID, index int, proof string) (*models.Order, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" || index < 0 {
		return nil, models.ErrStepOutOfOrder
	}
	o, err := s.orders.RecordStep(ctx, orderID, buyer.ID, index, proof)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, models.ErrConditionNotMet) {
		return nil, fmt.Errorf("record step: %w", err)
	}
	cur, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case cur.BuyerID != buyer.ID:
		return nil, models.ErrForbidden
	case cur.Status != models.OrderStatusPending:
		return nil, models.ErrInvalidTransition
	default:
		return nil, models.ErrStepOutOfOrder
	}
}

// Get returns the order if the actor is one of its parties or an admin.
func (s *OrderService) Get(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != actor.ID && o.MerchantID != actor.ID && !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return o, nil
}

func (s *OrderService) ListForBuyer(ctx context.Context, buyer models.Actor, limit, offset int) ([]*models.Order, error) {
	limit, offset = pageBounds(limit, offset)
	return s.orders.ListByBuyer(ctx, buyer.ID, limit, offset)
}

func (s *OrderService) ListForTask(ctx context.Context, actor models.Actor, taskID uuid.UUID, limit, offset int) ([]*models.Order, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.MerchantID != actor.ID && !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	limit, offset = pageBounds(limit, offset)
	return s.orders.ListByTask(ctx, taskID, limit, offset)
}

func (s *OrderService) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrOrderNotFound
	}
	return o, err
}
