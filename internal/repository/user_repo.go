package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskbazaar/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, u.ID, u.Email, u.DisplayName, u.Role, u.PasswordHash, u.CreatedAt).Scan(&u.CreatedAt)
	return mapError(err)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.get(ctx, `lower(email) = lower($1)`, email)
}

func (r *UserRepo) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *UserRepo) get(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, display_name, role, password_hash, created_at
		FROM users WHERE `+where, arg).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}
