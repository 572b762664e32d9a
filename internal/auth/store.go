package auth

import (
	"context"
	"sync"
	"time"
)

// RefreshRecord tracks an outstanding refresh token by its jti.
// Only the identifier is stored; the signed token itself never touches
// persistence.
type RefreshRecord struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// RefreshStore is the persistence contract for refresh-token rotation.
//
// Consume MUST be atomic with respect to concurrent calls for the same id:
// exactly one caller may succeed, all others get ErrTokenRevoked. A correct
// implementation uses a conditional update (compare-and-swap on the revoked
// flag), never read-then-write.
type RefreshStore interface {
	Create(ctx context.Context, rec RefreshRecord) error
	Consume(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// MemoryRefreshStore is an in-memory RefreshStore useful for tests.
// It is not intended for production use.
type MemoryRefreshStore struct {
	mu   sync.Mutex
	recs map[string]*RefreshRecord
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{recs: make(map[string]*RefreshRecord)}
}

func (s *MemoryRefreshStore) Create(ctx context.Context, rec RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.recs[rec.ID] = &cp
	return nil
}

func (s *MemoryRefreshStore) Consume(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok || rec.Revoked {
		return ErrTokenRevoked
	}
	rec.Revoked = true
	return nil
}

func (s *MemoryRefreshStore) RevokeAllForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.UserID == userID {
			rec.Revoked = true
		}
	}
	return nil
}

// DeleteExpired drops records whose natural expiry has passed. Retention
// housekeeping only; an expired token already fails verification.
func (s *MemoryRefreshStore) DeleteExpired(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.recs {
		if rec.ExpiresAt.Before(before) {
			delete(s.recs, id)
		}
	}
	return nil
}
