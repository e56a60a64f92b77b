package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/user"
)

const (
	getUserSQL    = `SELECT id, email, first_name, last_name, active FROM users WHERE id = $1`
	userExistsSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Get returns the account with the given id.
func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := conn(ctx, r.pool).QueryRow(ctx, getUserSQL, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &u, nil
}

// Exists reports whether an account with the given id exists.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, userExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking user %q: %w", id, err)
	}
	return exists, nil
}
