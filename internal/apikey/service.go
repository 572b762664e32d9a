package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"aegisx/internal/config"

	"github.com/google/uuid"
)

const keyPrefix = "ak_"

var (
	ErrNotFound        = errors.New("api key not found")
	ErrUnauthorized    = errors.New("api key unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Repository is the persistence contract for API keys.
type Repository interface {
	Create(ctx context.Context, key Key) error
	FindByID(ctx context.Context, id string) (Key, error)
	ListByUser(ctx context.Context, userID string) ([]Key, error)
	// MarkRevoked sets revoked_at iff the key is not already revoked.
	// Returns ErrNotFound for unknown ids; already-revoked is not an error.
	MarkRevoked(ctx context.Context, id string, at time.Time) error
}

// Service provides API key lifecycle and authorization.
type Service struct {
	repo       Repository
	defaultTTL time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, cfg config.APIKeyConfig) *Service {
	return &Service{repo: repo, defaultTTL: cfg.DefaultTTL, clock: time.Now}
}

// Create mints a key for userID. The returned string is the only time the
// plaintext secret is available; persistence keeps the hash.
func (s *Service) Create(ctx context.Context, userID, name string, scopes, ipAllowlist []string, expiresAt *time.Time) (Key, string, error) {
	if userID == "" || strings.TrimSpace(name) == "" {
		return Key{}, "", ErrInvalidArgument
	}
	if len(scopes) == 0 {
		return Key{}, "", ErrInvalidArgument
	}
	for _, sc := range scopes {
		if strings.TrimSpace(sc) == "" {
			return Key{}, "", ErrInvalidArgument
		}
	}
	for _, ip := range ipAllowlist {
		if net.ParseIP(ip) == nil {
			return Key{}, "", fmt.Errorf("%w: bad allowlist ip %q", ErrInvalidArgument, ip)
		}
	}

	now := s.clock().UTC()
	if expiresAt == nil && s.defaultTTL > 0 {
		t := now.Add(s.defaultTTL)
		expiresAt = &t
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return Key{}, "", ErrInvalidArgument
	}

	id := uuid.NewString()
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return Key{}, "", fmt.Errorf("random source: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	plaintext := keyPrefix + id + "." + secret

	key := Key{
		ID:          id,
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		KeyHash:     hashSecret(secret),
		KeyPrefix:   plaintext[:12],
		Scopes:      scopes,
		IPAllowlist: ipAllowlist,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return Key{}, "", err
	}
	return key, plaintext, nil
}

// Authorize validates a presented key against a required scope and origin IP.
// The four checks (known+intact, not revoked/expired, scope covered, IP
// allowed) are independent; any failing check rejects with ErrUnauthorized.
func (s *Service) Authorize(ctx context.Context, presentedKey, requiredScope, requestIP string) (Key, error) {
	if requiredScope == "" {
		return Key{}, ErrInvalidArgument
	}

	id, secret, ok := splitKey(presentedKey)
	if !ok {
		return Key{}, ErrUnauthorized
	}

	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Key{}, ErrUnauthorized
		}
		return Key{}, err
	}

	if !secureCompareHash(key.KeyHash, secret) {
		return Key{}, ErrUnauthorized
	}
	if key.Revoked() || key.Expired(s.clock().UTC()) {
		return Key{}, ErrUnauthorized
	}
	if !ScopeCovered(key.Scopes, requiredScope) {
		return Key{}, ErrUnauthorized
	}
	if !ipAllowed(key.IPAllowlist, requestIP) {
		return Key{}, ErrUnauthorized
	}

	return key, nil
}

// Revoke marks a key revoked. Idempotent: revoking an already-revoked key is
// not an error.
func (s *Service) Revoke(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrInvalidArgument
	}
	return s.repo.MarkRevoked(ctx, keyID, s.clock().UTC())
}

// RevokeOwned revokes a key only if ownerID owns it. A foreign key reports
// ErrNotFound rather than ErrUnauthorized so callers cannot confirm other
// users' key ids.
func (s *Service) RevokeOwned(ctx context.Context, ownerID, keyID string) error {
	if ownerID == "" || keyID == "" {
		return ErrInvalidArgument
	}
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key.UserID != ownerID {
		return ErrNotFound
	}
	return s.repo.MarkRevoked(ctx, keyID, s.clock().UTC())
}

// List returns key metadata for a user. Secrets are never retrievable; the
// hash is excluded from serialization by the model.
func (s *Service) List(ctx context.Context, userID string) ([]Key, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListByUser(ctx, userID)
}

// ScopeCovered reports whether required is covered by any granted scope.
// "read:*" covers "read:users"; "*" covers everything; otherwise exact match.
func ScopeCovered(granted []string, required string) bool {
	for _, g := range granted {
		if g == "*" || g == required {
			return true
		}
		if strings.HasSuffix(g, ":*") && strings.HasPrefix(required, strings.TrimSuffix(g, "*")) {
			return true
		}
	}
	return false
}

func ipAllowed(allowlist []string, requestIP string) bool {
	if len(allowlist) == 0 {
		return true
	}
	ip := net.ParseIP(requestIP)
	if ip == nil {
		return false
	}
	for _, allowed := range allowlist {
		if a := net.ParseIP(allowed); a != nil && a.Equal(ip) {
			return true
		}
	}
	return false
}

func splitKey(presented string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(presented, keyPrefix)
	if !found {
		return "", "", false
	}
	id, secret, found = strings.Cut(rest, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
