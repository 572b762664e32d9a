package auth

import "errors"

var (
	// ErrInvalidToken covers bad signatures, malformed tokens, type
	// mismatches and revoked/reused refresh tokens. Callers must not leak
	// which check failed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is a passive terminal state; distinct from
	// ErrInvalidToken so audit events can name the reason.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned by refresh stores when a token id is
	// unknown or already consumed.
	ErrTokenRevoked = errors.New("refresh token unknown or already revoked")
)
