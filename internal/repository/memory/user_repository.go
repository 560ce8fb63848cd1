package memory

import (
	"context"
	"sync"
	"time"

	"review-api/internal/domain"
	"review-api/internal/repository"
)

// UserRepository keeps users in process memory. Data is lost on restart.
type UserRepository struct {
	mu      sync.RWMutex
	users   []*domain.User
	byEmail map[string]int
}

func NewUserRepository() *UserRepository {
	return &UserRepository{byEmail: make(map[string]int)}
}

func (r *UserRepository) Init(context.Context) error {
	return nil
}

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	email := domain.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return repository.ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.byEmail[email] = len(r.users)
	r.users = append(r.users, &stored)
	return nil
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*domain.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, false, nil
	}
	user := *r.users[idx]
	return &user, true, nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, email, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return repository.ErrNotFound
	}
	r.users[idx].PasswordHash = passwordHash
	r.users[idx].UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepository) List(context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.User, len(r.users))
	for i, u := range r.users {
		users[i] = *u
	}
	return users, nil
}

func (r *UserRepository) Clear(context.Context) error {
	r.mu.Lock()
	r.users = nil
	r.byEmail = make(map[string]int)
	r.mu.Unlock()
	return nil
}
