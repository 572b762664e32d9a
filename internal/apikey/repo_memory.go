package apikey

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu   sync.Mutex
	keys map[string]*Key
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{keys: make(map[string]*Key)}
}

func (r *MemoryRepo) Create(ctx context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := key
	r.keys[key.ID] = &cp
	return nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return Key{}, ErrNotFound
	}
	return *k, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Key
	for _, k := range r.keys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (r *MemoryRepo) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return ErrNotFound
	}
	if k.RevokedAt == nil {
		t := at
		k.RevokedAt = &t
	}
	return nil
}
