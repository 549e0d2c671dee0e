package repository

import (
	"context"
	"errors"

	"ticket-manager/internal/domain"
)

var (
	// ErrNotFound indicates no user matched the lookup.
	ErrNotFound = errors.New("repository: user not found")
	// ErrDuplicateUsername is returned by Create when the username is already taken.
	ErrDuplicateUsername = errors.New("repository: duplicate username")
)

// UserRepository is the credential store. Username uniqueness is enforced here
// by the backing schema, not by callers.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	Ping(ctx context.Context) error
}
