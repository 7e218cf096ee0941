package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account kinds.
const (
	AccountKindBuyer    = "buyer"
	AccountKindMerchant = "merchant"
)

// Asset types held by every account.
const (
	AssetPrincipal  = "principal"
	AssetCommission = "commission"
)

// MoneyScale is the number of decimal places kept for every amount.
const MoneyScale = 2

// ValidAsset reports whether asset is one of the two supported asset types.
func ValidAsset(asset string) bool {
	return asset == AssetPrincipal || asset == AssetCommission
}

type Account struct {
	ID                  uuid.UUID       `json:"id"`
	Kind                string          `json:"kind"`
	AvailablePrincipal  decimal.Decimal `json:"available_principal"`
	FrozenPrincipal     decimal.Decimal `json:"frozen_principal"`
	AvailableCommission decimal.Decimal `json:"available_commission"`
	FrozenCommission    decimal.Decimal `json:"frozen_commission"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Available returns the available balance for asset.
func (a *Account) Available(asset string) decimal.Decimal {
	if asset == AssetCommission {
		return a.AvailableCommission
	}
	return a.AvailablePrincipal
}

// Frozen returns the frozen balance for asset.
func (a *Account) Frozen(asset string) decimal.Decimal {
	if asset == AssetCommission {
		return a.FrozenCommission
	}
	return a.FrozenPrincipal
}

// Total is available plus frozen for asset.
func (a *Account) Total(asset string) decimal.Decimal {
	return a.Available(asset).Add(a.Frozen(asset))
}

// Round brings an amount to MoneyScale, rounding half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}
