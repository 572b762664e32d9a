package auth

import (
	"context"
	"database/sql"
	"time"
)

// NOTE: This store assumes a refresh_tokens table:
//   id TEXT PRIMARY KEY, user_id TEXT NOT NULL,
//   expires_at TIMESTAMPTZ NOT NULL, revoked BOOLEAN NOT NULL DEFAULT false,
//   created_at TIMESTAMPTZ NOT NULL

// PostgresRefreshStore persists refresh-token rotation state.
type PostgresRefreshStore struct {
	db *sql.DB
}

func NewPostgresRefreshStore(db *sql.DB) *PostgresRefreshStore {
	return &PostgresRefreshStore{db: db}
}

func (s *PostgresRefreshStore) Create(ctx context.Context, rec RefreshRecord) error {
	const q = `
INSERT INTO refresh_tokens (id, user_id, expires_at, revoked, created_at)
VALUES ($1, $2, $3, false, $4)
`
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.UserID, rec.ExpiresAt, rec.CreatedAt)
	return err
}

// Consume marks the token revoked iff it is not already. The conditional
// update serializes concurrent rotation attempts at the database.
func (s *PostgresRefreshStore) Consume(ctx context.Context, id string) error {
	const q = `
UPDATE refresh_tokens
SET revoked = true
WHERE id = $1 AND revoked = false
`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	return nil
}

func (s *PostgresRefreshStore) RevokeAllForUser(ctx context.Context, userID string) error {
	const q = `
UPDATE refresh_tokens
SET revoked = true
WHERE user_id = $1 AND revoked = false
`
	_, err := s.db.ExecContext(ctx, q, userID)
	return err
}

// DeleteExpired prunes rows whose natural expiry has passed. Revocation is
// only meaningful until then; this is retention housekeeping, not security.
func (s *PostgresRefreshStore) DeleteExpired(ctx context.Context, before time.Time) error {
	const q = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	_, err := s.db.ExecContext(ctx, q, before)
	return err
}
