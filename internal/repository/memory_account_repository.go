package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/account-service/internal/domain"
)

// MemoryAccountRepository keeps accounts in process memory. It backs local
// runs without POSTGRES_DSN and the package tests of the layers above.
type MemoryAccountRepository struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*domain.Account
	byEmail map[string]int64
	now     func() time.Time
}

// NewMemoryAccountRepository returns an empty store whose ids start at 1.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		nextID:  1,
		byID:    make(map[int64]*domain.Account),
		byEmail: make(map[string]int64),
		now:     time.Now,
	}
}

func (r *MemoryAccountRepository) Create(_ context.Context, email, name, passwordHash string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return nil, ErrEmailTaken
	}
	now := r.now().UTC()
	account := &domain.Account{
		ID:           r.nextID,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.nextID++
	r.byID[account.ID] = account
	r.byEmail[email] = account.ID

	cp := *account
	return &cp, nil
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(id)
}

func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return r.copyOf(id)
}

func (r *MemoryAccountRepository) UpdateProfile(_ context.Context, id int64, update ProfileUpdate) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Name != nil {
		account.Name = *update.Name
	}
	if update.AvatarURL != nil {
		account.AvatarURL = *update.AvatarURL
	}
	account.UpdatedAt = r.now().UTC()
	return r.copyOf(id)
}

func (r *MemoryAccountRepository) UpdatePassword(_ context.Context, id int64, passwordHash string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = r.now().UTC()
	return r.copyOf(id)
}

func (r *MemoryAccountRepository) copyOf(id int64) (*domain.Account, error) {
	account, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *account
	return &cp, nil
}
