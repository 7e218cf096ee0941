package services

import (
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

// FeePolicy is the withdrawal fee schedule supplied by configuration.
type FeePolicy struct {
	Rate      decimal.Decimal
	MinFee    decimal.Decimal
	MinAmount decimal.Decimal
}

// Quote returns the fee and the net payout for a withdrawal of amount.
// The fee is max(amount × rate, min fee), never more than the amount.
func (p FeePolicy) Quote(amount decimal.Decimal) (fee, net decimal.Decimal, err error) {
	amount = models.Round(amount)
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, models.ErrInvalidAmount
	}
	if amount.LessThan(p.MinAmount) {
		return decimal.Zero, decimal.Zero, models.ErrBelowMinimum
	}
	fee = models.Round(amount.Mul(p.Rate))
	if fee.LessThan(p.MinFee) {
		fee = p.MinFee
	}
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return fee, amount.Sub(fee), nil
}
