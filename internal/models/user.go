package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleBuyer    = "buyer"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// User is a login identity. For buyers and merchants the ledger account shares the user's ID.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// AccountKindForRole maps a user role to the ledger account kind it owns.
// Admins own no ledger account.
func AccountKindForRole(role string) (string, bool) {
	switch role {
	case RoleBuyer:
		return AccountKindBuyer, true
	case RoleMerchant:
		return AccountKindMerchant, true
	default:
		return "", false
	}
}
