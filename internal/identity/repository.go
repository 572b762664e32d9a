package identity

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aegisx/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes a users table:
//   id TEXT PRIMARY KEY, email TEXT NOT NULL UNIQUE,
//   password_hash TEXT NOT NULL, first_name TEXT NOT NULL,
//   last_name TEXT NOT NULL, phone_number TEXT,
//   roles JSONB NOT NULL,
//   created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL,
//   last_login_at TIMESTAMPTZ

const uniqueViolation = "23505"

// PostgresUserStore persists accounts.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Create(ctx context.Context, u User) error {
	const q = `
INSERT INTO users (
  id, email, password_hash, first_name, last_name, phone_number, roles, created_at, updated_at
) VALUES (
  $1, lower($2), $3, $4, $5, $6, $7, $8, $9
)
`
	_, err := s.db.ExecContext(ctx, q,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.FirstName,
		u.LastName,
		u.PhoneNumber,
		rolesJSON(u.Roles),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id string) (User, error) {
	const q = userSelect + ` WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	const q = userSelect + ` WHERE email = lower($1)`
	return scanUser(s.db.QueryRowContext(ctx, q, email))
}

func (s *PostgresUserStore) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return s.execExpectingRow(ctx, q, id, passwordHash, at)
}

// RotateCredentials replaces the password hash and revokes the user's
// outstanding refresh tokens in one transaction, so a crash between the two
// writes cannot leave the new password saved with old sessions still alive.
// The refresh_tokens rows live in the same database; see
// internal/auth/store_postgres.go for their schema.
func (s *PostgresUserStore) RotateCredentials(ctx context.Context, id, passwordHash string, at time.Time) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			id, passwordHash, at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`,
			id)
		return err
	})
}

func (s *PostgresUserStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE users SET last_login_at = $2 WHERE id = $1`
	return s.execExpectingRow(ctx, q, id, at)
}

func (s *PostgresUserStore) execExpectingRow(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const userSelect = `
SELECT id, email, password_hash, first_name, last_name, phone_number, roles, created_at, updated_at, last_login_at
FROM users`

func scanUser(row *sql.Row) (User, error) {
	var u User
	var phone sql.NullString
	var roles rolesJSON
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&phone,
		&roles,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.PhoneNumber = phone.String
	u.Roles = roles
	return u, nil
}

// rolesJSON stores the role list as JSONB.
type rolesJSON []string

func (r rolesJSON) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(r))
}

func (r *rolesJSON) Scan(src any) error {
	if src == nil {
		*r = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(r))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(r))
	default:
		return fmt.Errorf("unsupported scan type %T for roles", src)
	}
}
