package apikey

import "time"

// Key represents persistent metadata for an API key.
//
// The plaintext secret is returned exactly once at creation; only its SHA-256
// hash is stored. Revocation is the terminal state: keys are never physically
// deleted, so the audit trail stays intact.
type Key struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// Name is a human label (e.g. "CI pipeline").
	Name string `json:"name" db:"name"`

	// KeyHash is the SHA-256 of the secret half of the key. Never serialized.
	KeyHash string `json:"-" db:"key_hash"`
	// KeyPrefix is a short non-secret fragment for display ("ak_1f3c...").
	KeyPrefix string `json:"key_prefix" db:"key_prefix"`

	// Scopes are capability labels; wildcard forms like "read:*" cover any
	// scope under the prefix, "*" covers everything.
	Scopes []string `json:"scopes" db:"scopes"`

	// IPAllowlist restricts callers by origin IP. Empty means unrestricted.
	IPAllowlist []string `json:"ip_allowlist,omitempty" db:"ip_allowlist"`

	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

func (k Key) Revoked() bool { return k.RevokedAt != nil }

func (k Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
