package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/models"
)

type UserStore struct{ s *Store }

func (r *UserStore) Create(ctx context.Context, u *models.User) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.create"); err != nil {
		return err
	}
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return models.ErrDuplicate
		}
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.s.lock(ctx)()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *UserStore) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
