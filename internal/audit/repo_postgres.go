package audit

import (
	"context"
	"database/sql"
)

// NOTE: This repository assumes an audit_events table with an INSERT-only
// policy:
//   id TEXT PRIMARY KEY, action TEXT NOT NULL, actor TEXT NOT NULL,
//   target_id TEXT, ip_address TEXT, user_agent TEXT, reason TEXT,
//   metadata JSONB, created_at TIMESTAMPTZ NOT NULL

// PostgresRepo persists audit events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, action, actor, target_id, ip_address, user_agent, reason, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Action,
		e.Actor,
		e.TargetID,
		e.IPAddress,
		e.UserAgent,
		e.Reason,
		nullIfEmpty(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
