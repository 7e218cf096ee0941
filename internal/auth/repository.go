package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/models"
)

// UserStore persists login identities. Create returns models.ErrDuplicate
// for an email that is already registered.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
