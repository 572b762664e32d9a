package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Every security-relevant action emits an event regardless of outcome.
// - Emission is best-effort; delivery failure must never fail the action
//   that triggered it.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Action indicates the security action being recorded.
	Action Action `json:"action" db:"action"`

	// Actor is the user id causing the event, or ActorSystem for unauthenticated
	// flows (e.g. a failed login for an unknown email).
	Actor string `json:"actor" db:"actor"`

	// TargetID optionally names the affected resource (user id, api key id,
	// token jti).
	TargetID string `json:"target_id,omitempty" db:"target_id"`

	// IPAddress should capture the original client IP when available.
	// Prefer X-Forwarded-For processing at the edge; store the resolved client IP here.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`

	// Reason carries the specific failure cause that was withheld from the
	// caller (e.g. "user not found" behind a generic InvalidCredentials).
	Reason string `json:"reason,omitempty" db:"reason"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActorSystem marks events with no authenticated actor.
const ActorSystem = "system"

type Action string

const (
	ActionUserRegistered     Action = "user_registered"
	ActionRegisterFailure    Action = "register_failure"
	ActionLoginSuccess       Action = "login_success"
	ActionLoginFailure       Action = "login_failure"
	ActionLogout             Action = "logout"
	ActionTokenRefresh       Action = "token_refresh"
	ActionTokenRefreshDenied Action = "token_refresh_denied"
	ActionPasswordChanged    Action = "password_changed"
	ActionAPIKeyCreated      Action = "api_key_created"
	ActionAPIKeyRevoked      Action = "api_key_revoked"
)
