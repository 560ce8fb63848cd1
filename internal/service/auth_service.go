package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"review-api/internal/auth"
	"review-api/internal/domain"
	"review-api/internal/notify"
	"review-api/internal/repository"
	"review-api/internal/validation"
)

// AuthService describes the credential lifecycle operations.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	Authenticate(ctx context.Context, token string) (domain.Claims, error)
	Logout(ctx context.Context, claims domain.Claims) error
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
	ChangePassword(ctx context.Context, claims domain.Claims, in ChangePasswordInput) error
	ClearUsers(ctx context.Context) error
}

// Request fields are pointers so absent and blank values can be told apart
// from the zero value; both are rejected.
type RegisterInput struct {
	Email    *string
	Username *string
	Password *string
}

type LoginInput struct {
	Email    *string
	Password *string
}

type ResetPasswordInput struct {
	Email *string
}

type ChangePasswordInput struct {
	OldPassword *string
	NewPassword *string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	User        domain.User
}

// Notifications accepts password notifications for asynchronous delivery.
type Notifications interface {
	Enqueue(msg notify.Message) error
}

// Dependencies wires an AuthService.
type Dependencies struct {
	Users               repository.UserRepository
	Revocations         repository.RevocationRegistry
	Hasher              auth.Hasher
	Tokens              *auth.TokenIssuer
	Validator           validation.Validator
	Notifications       Notifications
	ResetPasswordLength int
	Logger              logrus.FieldLogger
}

type authService struct {
	users       repository.UserRepository
	revocations repository.RevocationRegistry
	hasher      auth.Hasher
	tokens      *auth.TokenIssuer
	validator   validation.Validator
	notes       Notifications
	resetLen    int
	logger      logrus.FieldLogger

	// dummyHash is verified against for unknown emails so both login
	// failures cost one hash comparison.
	dummyHash string

	// mu serializes read-modify-write sequences on users and revocations.
	mu sync.Mutex
}

func NewAuthService(deps Dependencies) (AuthService, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.Revocations == nil:
		return nil, errors.New("revocation registry is required")
	case deps.Hasher == nil:
		return nil, errors.New("password hasher is required")
	case deps.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case deps.Validator == nil:
		return nil, errors.New("validator is required")
	case deps.Notifications == nil:
		return nil, errors.New("notifications are required")
	}
	if deps.ResetPasswordLength < 8 {
		deps.ResetPasswordLength = 10
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	dummy, err := deps.Hasher.Hash("unknown-user-placeholder")
	if err != nil {
		return nil, fmt.Errorf("prepare hasher: %w", err)
	}
	return &authService{
		dummyHash:   dummy,
		users:       deps.Users,
		revocations: deps.Revocations,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		validator:   deps.Validator,
		notes:       deps.Notifications,
		resetLen:    deps.ResetPasswordLength,
		logger:      deps.Logger,
	}, nil
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if err := s.requireFields(
		validation.Field{Name: "email", Value: in.Email},
		validation.Field{Name: "username", Value: in.Username},
		validation.Field{Name: "password", Value: in.Password},
	); err != nil {
		return nil, err
	}
	if !s.validator.Email(*in.Email) {
		return nil, ErrInvalidEmail
	}
	if err := s.validator.Password(*in.Password); err != nil {
		return nil, err
	}

	email := domain.NormalizeEmail(*in.Email)
	username := domain.NormalizeUsername(*in.Username)

	hash, err := s.hasher.Hash(*in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", ErrWeakPassword, auth.MaxPasswordBytes)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists, err := s.users.FindByEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	} else if exists {
		return nil, ErrDuplicateEmail
	}

	user := &domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.WithField("email", email).Info("user registered")
	return sanitizeUser(user), nil
}

func (s *authService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := s.requireFields(
		validation.Field{Name: "email", Value: in.Email},
		validation.Field{Name: "password", Value: in.Password},
	); err != nil {
		return nil, err
	}

	user, ok, err := s.users.FindByEmail(ctx, *in.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		s.hasher.Verify(s.dummyHash, *in.Password)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(user.PasswordHash, *in.Password) {
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(user.Email, user.Username)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"email": user.Email, "jti": claims.JTI}).Info("user logged in")
	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt,
		User:        *sanitizeUser(user),
	}, nil
}

// Authenticate verifies a bearer token. Every failure wraps ErrUnauthorized
// together with the underlying token error.
func (s *authService) Authenticate(ctx context.Context, token string) (domain.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Claims{}, ErrUnauthorized
	}
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims, nil
}

func (s *authService) Logout(ctx context.Context, claims domain.Claims) error {
	if claims.JTI == "" {
		return ErrUnauthorized
	}
	if err := s.revocations.Revoke(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"email": claims.Subject, "jti": claims.JTI}).Info("user logged out")
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := s.requireFields(validation.Field{Name: "email", Value: in.Email}); err != nil {
		return err
	}
	email := domain.NormalizeEmail(*in.Email)

	password, err := auth.GeneratePassword(s.resetLen)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	if err := s.replacePassword(ctx, email, hash); err != nil {
		return err
	}

	// dispatched after the lock is released
	if err := s.notes.Enqueue(notify.Message{To: email, Password: password}); err != nil {
		s.logger.WithField("email", email).Errorf("queue reset notification: %v", err)
	}
	s.logger.WithField("email", email).Info("password reset")
	return nil
}

func (s *authService) replacePassword(ctx context.Context, email, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.users.FindByEmail(ctx, email); err != nil {
		return fmt.Errorf("lookup user: %w", err)
	} else if !ok {
		return ErrUnregisteredEmail
	}
	if err := s.users.UpdatePassword(ctx, email, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnregisteredEmail
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *authService) ChangePassword(ctx context.Context, claims domain.Claims, in ChangePasswordInput) error {
	if err := s.requireFields(
		validation.Field{Name: "old_password", Value: in.OldPassword},
		validation.Field{Name: "new_password", Value: in.NewPassword},
	); err != nil {
		return err
	}
	if claims.JTI == "" || claims.Subject == "" {
		return ErrUnauthorized
	}

	hash, err := s.hasher.Hash(*in.NewPassword)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrWeakPassword, auth.MaxPasswordBytes)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok, err := s.users.FindByEmail(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	if !s.hasher.Verify(user.PasswordHash, *in.OldPassword) {
		return ErrIncorrectPassword
	}
	if err := s.users.UpdatePassword(ctx, user.Email, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.revocations.Revoke(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"email": user.Email, "jti": claims.JTI}).Info("password changed")
	return nil
}

func (s *authService) ClearUsers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Clear(ctx)
}

func (s *authService) requireFields(fields ...validation.Field) error {
	if blank := s.validator.Blank(fields...); len(blank) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, blankMessage(blank))
	}
	return nil
}

func blankMessage(fields []string) string {
	if len(fields) == 1 {
		return fields[0] + " is required"
	}
	return strings.Join(fields, ", ") + " are required"
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		Email:     user.Email,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
