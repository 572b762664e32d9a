package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"aegisx/internal/config"

	"golang.org/x/crypto/bcrypt"
)

// Hasher wraps bcrypt with a configured work factor.
// Hashing is deliberately expensive; treat Hash/Compare as blocking calls.
type Hasher struct {
	cost int
}

func NewHasher(cfg config.PasswordConfig) *Hasher {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash produces a new, independently salted bcrypt hash.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password is empty")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Compare reports whether plaintext matches hash.
// Malformed hashes yield false, never an error; callers must not be able to
// distinguish "bad hash" from "wrong password".
func (h *Hasher) Compare(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// MaxHashableLength is bcrypt's input limit. Longer passwords would make
// Hash fail, so Validate always enforces this ceiling even when the
// configured MaxLength is zero (unbounded) or larger.
const MaxHashableLength = 72

// Policy describes password requirements.
// MaxLength == 0 means no configured bound; bcrypt's input limit still
// applies. A policy with every Require flag disabled still enforces the
// length bounds.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// PolicyFromConfig builds the default policy from process configuration.
func PolicyFromConfig(cfg config.PasswordConfig) Policy {
	return Policy{
		MinLength:      cfg.MinLength,
		MaxLength:      cfg.MaxLength,
		RequireUpper:   cfg.RequireUpper,
		RequireLower:   cfg.RequireLower,
		RequireDigit:   cfg.RequireDigit,
		RequireSpecial: cfg.RequireSpecial,
	}
}

// Result reports the outcome of a policy validation.
// Violations lists every failed rule, not just the first, so callers can
// present a complete error list.
type Result struct {
	Valid      bool
	Violations []string
}

// Validate checks plaintext against policy. Each enabled rule is evaluated
// independently.
func Validate(plaintext string, policy Policy) Result {
	var violations []string

	if len(plaintext) < policy.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", policy.MinLength))
	}
	maxLen := policy.MaxLength
	if maxLen == 0 || maxLen > MaxHashableLength {
		maxLen = MaxHashableLength
	}
	if len(plaintext) > maxLen {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", maxLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if policy.RequireUpper && !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if policy.RequireLower && !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if policy.RequireSpecial && !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	return Result{Valid: len(violations) == 0, Violations: violations}
}

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*()-_=+[]{}<>?"
)

// ErrLengthTooShort is returned by GenerateRandom for lengths below 4; a
// shorter password cannot hold one character from each class, and silently
// relaxing that guarantee is worse than refusing.
var ErrLengthTooShort = errors.New("password length must be at least 4")

// GenerateRandom returns a random password of the given length containing at
// least one lowercase letter, one uppercase letter, one digit and one special
// character. Positions are shuffled with Fisher-Yates over crypto/rand so the
// guaranteed characters are not positionally predictable.
func GenerateRandom(length int) (string, error) {
	if length < 4 {
		return "", ErrLengthTooShort
	}

	combined := lowerChars + upperChars + digitChars + specialChars

	out := make([]byte, 0, length)
	for _, class := range []string{lowerChars, upperChars, digitChars, specialChars} {
		b, err := randByte(class)
		if err != nil {
			return "", err
		}
		out = append(out, b)
	}
	for len(out) < length {
		b, err := randByte(combined)
		if err != nil {
			return "", err
		}
		out = append(out, b)
	}

	// Fisher-Yates.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

// IsCompromised is a hook reserved for an external breach-database check.
// The default implementation always returns false; callers must not rely on
// it until it is backed by a real service.
func IsCompromised(plaintext string) bool {
	_ = strings.TrimSpace(plaintext)
	return false
}

func randByte(alphabet string) (byte, error) {
	i, err := randInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random source: %w", err)
	}
	return int(v.Int64()), nil
}
