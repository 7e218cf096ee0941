package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Task status enums.
const (
	TaskStatusDraft     = "draft"
	TaskStatusActive    = "active"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
)

type Task struct {
	ID                  uuid.UUID       `json:"id"`
	MerchantID          uuid.UUID       `json:"merchant_id"`
	Title               string          `json:"title"`
	Capacity            int             `json:"capacity"`
	ClaimedCount        int             `json:"claimed_count"`
	StepCount           int             `json:"step_count"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	UnitCommission      decimal.Decimal `json:"unit_commission"`
	UnclaimedCollateral decimal.Decimal `json:"unclaimed_collateral"`
	Status              string          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Remaining is the number of slots not currently claimed.
func (t *Task) Remaining() int {
	return t.Capacity - t.ClaimedCount
}

// Collateral is the principal a fully funded task keeps frozen.
func (t *Task) Collateral() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Capacity)))
}
