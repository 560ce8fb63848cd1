package repository

import (
	"context"
	"errors"
	"time"

	"review-api/internal/domain"
)

var (
	// ErrDuplicateEmail is returned when a user with the same normalized email exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotFound is returned when an update targets an unknown user.
	ErrNotFound = errors.New("user not found")
)

// UserRepository defines the credential store. Emails are normalized by the
// store on every call.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, bool, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) error
	List(ctx context.Context) ([]domain.User, error)
	Clear(ctx context.Context) error
}

// RevocationRegistry tracks token ids that must be rejected even when the
// token is otherwise valid.
type RevocationRegistry interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Sweep drops entries whose token expired before now and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
