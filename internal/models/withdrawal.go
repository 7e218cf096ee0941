package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withdrawal status enums.
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusRejected  = "rejected"
)

type Withdrawal struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Asset           string          `json:"asset"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Fee             decimal.Decimal `json:"fee"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Status          string          `json:"status"`
	PayoutDetails   json.RawMessage `json:"payout_details"`
	ClientRef       *string         `json:"client_ref,omitempty"`
	ReviewerID      *uuid.UUID      `json:"reviewer_id,omitempty"`
	RejectReason    string          `json:"reject_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
}
