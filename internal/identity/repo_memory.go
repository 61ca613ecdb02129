package identity

import (
	"context"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Identity
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]Identity),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(ctx context.Context, id Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email := NormalizeEmail(id.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if _, ok := r.byID[id.ID]; ok {
		return ErrEmailTaken
	}
	now := r.now()
	id.Email = email
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = id.CreatedAt
	}
	r.byID[id.ID] = id
	r.byEmail[email] = id.ID
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, ownerID string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byID[ownerID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ownerID, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return r.byID[ownerID], nil
}

func (r *MemoryRepo) Update(ctx context.Context, ownerID string, u Update) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := u.Validate(); err != nil {
		return Identity{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byID[ownerID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	u.apply(&id)
	id.UpdatedAt = r.now()
	r.byID[ownerID] = id
	return id, nil
}

var _ Repo = (*MemoryRepo)(nil)
