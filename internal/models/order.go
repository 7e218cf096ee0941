package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order status enums.
const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusApproved  = "approved"
	OrderStatusRejected  = "rejected"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// OpenOrderStatuses are the statuses that still hold merchant collateral.
var OpenOrderStatuses = []string{OrderStatusPending, OrderStatusSubmitted}

type Order struct {
	ID               uuid.UUID       `json:"id"`
	TaskID           uuid.UUID       `json:"task_id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	MerchantID       uuid.UUID       `json:"merchant_id"`
	Status           string          `json:"status"`
	PrincipalAmount  decimal.Decimal `json:"principal_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	StepCount        int             `json:"step_count"`
	StepsDone        int             `json:"steps_done"`
	Proofs           []string        `json:"proofs"`
	RejectReason     string          `json:"reject_reason,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsOpen reports whether the order still holds merchant collateral.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusSubmitted
}
