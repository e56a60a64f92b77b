// Package user describes the account lookups the order core depends on.
package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// User is the subset of an account the order core reads.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Active    bool
}

// Repository looks up accounts.
type Repository interface {
	Get(ctx context.Context, id string) (*User, error)
	Exists(ctx context.Context, id string) (bool, error)
}
