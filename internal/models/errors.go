package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store-level sentinels. Repositories return these; services translate them.
var (
	ErrNotFound         = errors.New("not found")
	ErrConditionNotMet  = errors.New("conditional update matched no row")
	ErrDuplicate        = errors.New("duplicate record")
	ErrCheckViolation   = errors.New("check constraint violated")
	ErrInvalidID        = errors.New("invalid id")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Domain sentinels, checked with errors.Is.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvariantViolation = errors.New("ledger invariant violation")
	ErrInvalidAmount      = errors.New("amount must be a non-negative decimal")
	ErrInvalidAsset       = errors.New("unknown asset type")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrSameAccount        = errors.New("settlement source and destination are the same account")

	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskNotActive     = errors.New("task not active")
	ErrCapacityExhausted = errors.New("task capacity exhausted")
	ErrInvalidTask       = errors.New("invalid task definition")
	ErrTaskState         = errors.New("task status does not allow this action")

	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrStepOutOfOrder    = errors.New("proof step submitted out of order")
	ErrOrderExists       = errors.New("buyer already holds an open order for this task")

	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrAlreadyReviewed    = errors.New("withdrawal already reviewed")
	ErrBelowMinimum       = errors.New("amount below minimum withdrawal")
	ErrInvalidPayout      = errors.New("invalid payout details")

	ErrForbidden = errors.New("actor not permitted")
)

// InvariantViolationError reports a balance that is lower than a matching
// earlier freeze guarantees. It indicates a bug, never a user mistake.
type InvariantViolationError struct {
	Op        string
	AccountID uuid.UUID
	Asset     string
	Bucket    string
	Amount    decimal.Decimal
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violation: %s of %s %s from %s balance of account %s",
		e.Op, e.Amount.StringFixed(MoneyScale), e.Asset, e.Bucket, e.AccountID)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// IsClientError reports whether err is caused by the caller's input or the
// current business state, as opposed to infrastructure or bugs.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds, ErrInvalidAmount, ErrInvalidAsset, ErrAccountNotFound, ErrSameAccount,
		ErrTaskNotFound, ErrTaskNotActive, ErrCapacityExhausted, ErrInvalidTask, ErrTaskState,
		ErrOrderNotFound, ErrInvalidTransition, ErrStepOutOfOrder, ErrOrderExists,
		ErrWithdrawalNotFound, ErrAlreadyReviewed, ErrBelowMinimum, ErrInvalidPayout,
		ErrForbidden, ErrInvalidID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the whole operation may be retried safely.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
