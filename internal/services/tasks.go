package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
)

const (
	memoTaskCollateral = "task collateral"
	memoTaskReplenish  = "task collateral replenish"
	memoTaskCancelled  = "task cancelled: collateral returned"
)

// TaskService manages the merchant side of a task: draft, publish with
// collateral, replenish returned slots, cancel.
type TaskService struct {
	uow    UnitOfWork
	tasks  TaskStore
	ledger ledger.Service
	clock  clock.Clock
	log    *slog.Logger
}

func NewTaskService(uow UnitOfWork, tasks TaskStore, l ledger.Service, clk clock.Clock, log *slog.Logger) *TaskService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TaskService{uow: uow, tasks: tasks, ledger: l, clock: clk, log: defaultLogger(log)}
}

type CreateTaskInput struct {
	Title          string
	Capacity       int
	StepCount      int
	UnitPrice      decimal.Decimal
	UnitCommission decimal.Decimal
}

func (s *TaskService) CreateDraft(ctx context.Context, actor models.Actor, in CreateTaskInput) (*models.Task, error) {
	if actor.Role != models.RoleMerchant {
		return nil, models.ErrForbidden
	}
	if in.StepCount == 0 {
		in.StepCount = 1
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.Capacity < 1 || in.StepCount < 1 ||
		!in.UnitPrice.IsPositive() || in.UnitCommission.IsNegative() {
		return nil, models.ErrInvalidTask
	}
	if _, err := s.ledger.Account(ctx, actor.ID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	t := &models.Task{
		ID:                  uuid.New(),
		MerchantID:          actor.ID,
		Title:               in.Title,
		Capacity:            in.Capacity,
		StepCount:           in.StepCount,
		UnitPrice:           models.Round(in.UnitPrice),
		UnitCommission:      models.Round(in.UnitCommission),
		UnclaimedCollateral: decimal.Zero,
		Status:              models.TaskStatusDraft,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Publish activates a draft and freezes capacity × unit price of the
// merchant's principal as collateral, in one unit of work.
func (s *TaskService) Publish(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*models.Task, error) {
	var out *models.Task
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.owned(ctx, actor, taskID)
		if err != nil {
			return err
		}
		collateral := t.Collateral()
		out, err = s.tasks.Activate(ctx, taskID, collateral)
		if errors.Is(err, models.ErrConditionNotMet) {
			return models.ErrTaskState
		}
		if err != nil {
			return fmt.Errorf("activate task: %w", err)
		}
		_, err = s.ledger.Freeze(ctx, ledger.Entry{
			AccountID:   t.MerchantID,
			Asset:       models.AssetPrincipal,
			Amount:      collateral,
			Memo:        memoTaskCollateral,
			Correlation: models.ForTask(taskID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task published", "task_id", taskID, "merchant_id", out.MerchantID, "collateral", out.UnclaimedCollateral.String())
	return out, nil
}

// Replenish re-freezes collateral for slots that rejected or cancelled
// orders returned to the pool. It returns the amount frozen (zero when the
// task is already fully funded).
func (s *TaskService) Replenish(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*models.Task, decimal.Decimal, error) {
	var (
		out   *models.Task
		added = decimal.Zero
	)
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.owned(ctx, actor, taskID)
		if err != nil {
			return err
		}
		if t.Status != models.TaskStatusActive {
			return models.ErrTaskState
		}
		shortfall := t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Remaining()))).Sub(t.UnclaimedCollateral)
		if !shortfall.IsPositive() {
			out = t
			return nil
		}
		out, err = s.tasks.AddCollateral(ctx, taskID, shortfall)
		if errors.Is(err, models.ErrConditionNotMet) {
			return models.ErrTaskState
		}
		if err != nil {
			return fmt.Errorf("add collateral: %w", err)
		}
		if _, err := s.ledger.Freeze(ctx, ledger.Entry{
			AccountID:   t.MerchantID,
			Asset:       models.AssetPrincipal,
			Amount:      shortfall,
			Memo:        memoTaskReplenish,
			Correlation: models.ForTask(taskID),
		}); err != nil {
			return err
		}
		added = shortfall
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return out, added, nil
}

// Cancel closes a draft or active task and returns its unclaimed collateral
// to the merchant. Orders already claimed keep their own collateral.
func (s *TaskService) Cancel(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*models.Task, error) {
	var out *models.Task
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.owned(ctx, actor, taskID)
		if err != nil {
			return err
		}
		var released decimal.Decimal
		out, released, err = s.tasks.Cancel(ctx, taskID)
		if errors.Is(err, models.ErrConditionNotMet) {
			return models.ErrTaskState
		}
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		if !released.IsPositive() {
			return nil
		}
		_, err = s.ledger.Unfreeze(ctx, ledger.Entry{
			AccountID:   t.MerchantID,
			Asset:       models.AssetPrincipal,
			Amount:      released,
			Memo:        memoTaskCancelled,
			Correlation: models.ForTask(taskID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrTaskNotFound
	}
	return t, err
}

func (s *TaskService) List(ctx context.Context, status string, limit, offset int) ([]*models.Task, error) {
	limit, offset = pageBounds(limit, offset)
	return s.tasks.List(ctx, status, limit, offset)
}

// owned loads the task and checks the actor is its merchant or an admin.
func (s *TaskService) owned(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*models.Task, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.MerchantID != actor.ID && !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return t, nil
}
