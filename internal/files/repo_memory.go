package files

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo implements Repo in memory.
type MemoryRepo struct {
	mu      sync.RWMutex
	byOwner map[string]map[string]FileObject
}

// NewMemoryRepo constructs an in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byOwner: make(map[string]map[string]FileObject)}
}

func (r *MemoryRepo) Put(ctx context.Context, f FileObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owned, ok := r.byOwner[f.OwnerID]
	if !ok {
		owned = make(map[string]FileObject)
		r.byOwner[f.OwnerID] = owned
	}
	owned[f.ID] = f
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, ownerID, fileID string) (FileObject, error) {
	if err := ctx.Err(); err != nil {
		return FileObject{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byOwner[ownerID][fileID]
	if !ok {
		return FileObject{}, ErrNotFound
	}
	return f, nil
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string) ([]FileObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	owned := r.byOwner[ownerID]
	out := make([]FileObject, 0, len(owned))
	for _, f := range owned {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, ownerID, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owned, ok := r.byOwner[ownerID]; ok {
		delete(owned, fileID)
		if len(owned) == 0 {
			delete(r.byOwner, ownerID)
		}
	}
	return nil
}

func sortNewestFirst(items []FileObject) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

var _ Repo = (*MemoryRepo)(nil)
