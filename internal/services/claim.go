package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
)

const memoClaimReturned = "claim released: task closed, collateral returned"

// ClaimGranted is the seed for the order created after a successful claim.
type ClaimGranted struct {
	TaskID           uuid.UUID
	BuyerID          uuid.UUID
	MerchantID       uuid.UUID
	PrincipalAmount  decimal.Decimal
	CommissionAmount decimal.Decimal
	StepCount        int
	ClaimedCount     int
	Capacity         int
}

// ClaimDenied explains why no capacity was reserved. Reason is one of
// models.ErrTaskNotFound, models.ErrTaskNotActive, models.ErrCapacityExhausted.
type ClaimDenied struct {
	TaskID uuid.UUID
	Reason error
}

func (d *ClaimDenied) Error() string {
	return fmt.Sprintf("claim on task %s denied: %v", d.TaskID, d.Reason)
}

func (d *ClaimDenied) Unwrap() error { return d.Reason }

// ClaimCoordinator reserves task capacity. The reservation is a single
// guarded increment; the task is only read afterwards to explain a denial.
type ClaimCoordinator struct {
	uow    UnitOfWork
	tasks  TaskStore
	ledger ledger.Service
	log    *slog.Logger
}

func NewClaimCoordinator(uow UnitOfWork, tasks TaskStore, l ledger.Service, log *slog.Logger) *ClaimCoordinator {
	return &ClaimCoordinator{uow: uow, tasks: tasks, ledger: l, log: defaultLogger(log)}
}

func (c *ClaimCoordinator) Claim(ctx context.Context, taskID, buyerID uuid.UUID) (*ClaimGranted, error) {
	var granted *ClaimGranted
	err := c.uow.WithTx(ctx, func(ctx context.Context) error {
		t, err := c.tasks.TryClaim(ctx, taskID)
		if err == nil {
			granted = &ClaimGranted{
				TaskID:           t.ID,
				BuyerID:          buyerID,
				MerchantID:       t.MerchantID,
				PrincipalAmount:  t.UnitPrice,
				CommissionAmount: t.UnitCommission,
				StepCount:        t.StepCount,
				ClaimedCount:     t.ClaimedCount,
				Capacity:         t.Capacity,
			}
			return nil
		}
		if !errors.Is(err, models.ErrConditionNotMet) {
			return fmt.Errorf("claim task %s: %w", taskID, err)
		}
		reason, err := c.diagnose(ctx, taskID)
		if err != nil {
			return err
		}
		return &ClaimDenied{TaskID: taskID, Reason: reason}
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

// Release returns a slot whose order could not be created. While the task
// is active the slot's unit price goes back to its unclaimed collateral. If
// the task was cancelled or completed in the meantime there is no pool left,
// so the unit price is unfrozen to the merchant in the same unit of work.
func (c *ClaimCoordinator) Release(ctx context.Context, taskID uuid.UUID) error {
	return c.uow.WithTx(ctx, func(ctx context.Context) error {
		t, err := c.tasks.ReleaseClaim(ctx, taskID, true)
		if err != nil {
			return fmt.Errorf("release claim on task %s: %w", taskID, err)
		}
		if t.Status == models.TaskStatusActive {
			return nil
		}
		if _, err := c.ledger.Unfreeze(ctx, ledger.Entry{
			AccountID:   t.MerchantID,
			Asset:       models.AssetPrincipal,
			Amount:      t.UnitPrice,
			Memo:        memoClaimReturned,
			Correlation: models.ForTask(taskID),
		}); err != nil {
			return fmt.Errorf("return collateral of task %s: %w", taskID, err)
		}
		c.log.Info("released claim on closed task", "task_id", taskID, "status", t.Status,
			"returned", t.UnitPrice.String())
		return nil
	})
}

func (c *ClaimCoordinator) diagnose(ctx context.Context, taskID uuid.UUID) (error, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrTaskNotFound, nil
	}
	if err != nil {
		return nil, fmt.Errorf("diagnose claim on task %s: %w", taskID, err)
	}
	if t.Status != models.TaskStatusActive {
		return models.ErrTaskNotActive, nil
	}
	// Either every slot is claimed, or returned slots await replenishment.
	return models.ErrCapacityExhausted, nil
}
