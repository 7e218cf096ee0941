package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fund record directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Balance buckets a record can move.
const (
	BucketAvailable = "available"
	BucketFrozen    = "frozen"
)

// Fund record kinds.
const (
	RecordKindCredit      = "credit"
	RecordKindDebit       = "debit"
	RecordKindFreeze      = "freeze"
	RecordKindUnfreeze    = "unfreeze"
	RecordKindDebitFrozen = "debit_frozen"
	RecordKindSettleOut   = "settle_out"
	RecordKindSettleIn    = "settle_in"
)

// FundRecord is an immutable audit entry. Amount is signed: negative for "out".
type FundRecord struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	Asset        string          `json:"asset"`
	Bucket       string          `json:"bucket"`
	Direction    string          `json:"direction"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Memo         string          `json:"memo"`
	OrderID      *uuid.UUID      `json:"order_id,omitempty"`
	WithdrawalID *uuid.UUID      `json:"withdrawal_id,omitempty"`
	TaskID       *uuid.UUID      `json:"task_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Correlation ties fund records to the business object that caused them.
type Correlation struct {
	OrderID      *uuid.UUID
	WithdrawalID *uuid.UUID
	TaskID       *uuid.UUID
}

// IsZero reports whether no correlation id is set.
func (c Correlation) IsZero() bool {
	return c.OrderID == nil && c.WithdrawalID == nil && c.TaskID == nil
}

// ForOrder returns a correlation on an order (and its task).
func ForOrder(orderID, taskID uuid.UUID) Correlation {
	return Correlation{OrderID: &orderID, TaskID: &taskID}
}

// ForTask returns a correlation on a task.
func ForTask(taskID uuid.UUID) Correlation {
	return Correlation{TaskID: &taskID}
}

// ForWithdrawal returns a correlation on a withdrawal.
func ForWithdrawal(withdrawalID uuid.UUID) Correlation {
	return Correlation{WithdrawalID: &withdrawalID}
}

// Matches reports whether r carries every id set in c.
func (c Correlation) Matches(r *FundRecord) bool {
	if c.IsZero() {
		return false
	}
	if c.OrderID != nil && (r.OrderID == nil || *r.OrderID != *c.OrderID) {
		return false
	}
	if c.WithdrawalID != nil && (r.WithdrawalID == nil || *r.WithdrawalID != *c.WithdrawalID) {
		return false
	}
	if c.TaskID != nil && (r.TaskID == nil || *r.TaskID != *c.TaskID) {
		return false
	}
	return true
}
