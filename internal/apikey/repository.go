package apikey

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NOTE: This repository assumes an api_keys table:
//   id TEXT PRIMARY KEY, user_id TEXT NOT NULL, name TEXT NOT NULL,
//   key_hash TEXT NOT NULL, key_prefix TEXT NOT NULL,
//   scopes JSONB NOT NULL, ip_allowlist JSONB,
//   expires_at TIMESTAMPTZ, revoked_at TIMESTAMPTZ,
//   created_at TIMESTAMPTZ NOT NULL
// Rows are never deleted; revoked_at is the terminal state.

// PostgresRepo persists API keys.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, key Key) error {
	const q = `
INSERT INTO api_keys (
  id, user_id, name, key_hash, key_prefix, scopes, ip_allowlist, expires_at, revoked_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,NULL,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		key.ID,
		key.UserID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		jsonStringSlice(key.Scopes),
		jsonStringSlice(key.IPAllowlist),
		key.ExpiresAt,
		key.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) FindByID(ctx context.Context, id string) (Key, error) {
	const q = `
SELECT id, user_id, name, key_hash, key_prefix, scopes, ip_allowlist, expires_at, revoked_at, created_at
FROM api_keys
WHERE id = $1
`
	return scanKey(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]Key, error) {
	const q = `
SELECT id, user_id, name, key_hash, key_prefix, scopes, ip_allowlist, expires_at, revoked_at, created_at
FROM api_keys
WHERE user_id = $1
ORDER BY created_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// MarkRevoked is conditional on revoked_at being unset; a second revoke is a
// no-op, matching the service's idempotence contract.
func (r *PostgresRepo) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE api_keys
SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL
`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish unknown from already revoked.
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (Key, error) {
	var k Key
	var scopes, allowlist jsonStringSlice
	if err := row.Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.KeyHash,
		&k.KeyPrefix,
		&scopes,
		&allowlist,
		&k.ExpiresAt,
		&k.RevokedAt,
		&k.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Key{}, ErrNotFound
		}
		return Key{}, err
	}
	k.Scopes = scopes
	k.IPAllowlist = allowlist
	return k, nil
}

// jsonStringSlice stores string lists as JSONB.
type jsonStringSlice []string

func (s jsonStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal([]string(s))
}

func (s *jsonStringSlice) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(s))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(s))
	default:
		return fmt.Errorf("unsupported scan type %T for string slice", src)
	}
}
