package identity

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials is returned for every authentication failure
	// regardless of cause, so callers cannot probe which emails exist. The
	// specific cause goes to the audit trail instead.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailTaken      = errors.New("email already registered")
	ErrNotFound        = errors.New("user not found")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrRateLimited     = errors.New("too many attempts")
)

// PolicyError reports every password policy violation at once so the caller
// can fix them in a single pass.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Violations, "; ")
}
