package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"aegisx/internal/config"
)

func testManager(t *testing.T) (*Manager, *MemoryRefreshStore) {
	t.Helper()
	store := NewMemoryRefreshStore()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "aegisx",
		JWTAudience:     "aegisx-api",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}, store)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m, store
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(ctx, now, "user-1", "a@b.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@b.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "user" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time) != 15*time.Minute {
		t.Fatalf("exp must equal iat + access ttl")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(context.Background(), now, "u", "e@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(pair.RefreshToken, TokenTypeAccess, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for refresh-as-access, got %v", err)
	}
	if _, err := m.Verify(pair.AccessToken, TokenTypeRefresh, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for access-as-refresh, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(context.Background(), now, "u", "e@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Past the access TTL plus the verification leeway.
	later := now.Add(16*time.Minute + verifyLeeway)
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, later); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m, _ := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(context.Background(), now, "u", "e@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := m.Verify(tampered, TokenTypeAccess, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(ctx, now, "u", "e@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	pair2, err := m.Refresh(ctx, pair.RefreshToken, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Reuse of the consumed token must fail.
	if _, err := m.Refresh(ctx, pair.RefreshToken, now.Add(2*time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}

	// The rotated token still works.
	if _, err := m.Refresh(ctx, pair2.RefreshToken, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("refresh of rotated token: %v", err)
	}
}

func TestRevokeRefreshThenRefreshFails(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(ctx, now, "u", "e@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.RevokeRefresh(ctx, pair.RefreshToken, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.Refresh(ctx, pair.RefreshToken, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}
	// Revoking twice is a terminal ErrInvalidToken, not a system error.
	if _, err := m.RevokeRefresh(ctx, pair.RefreshToken, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on second revoke, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	p1, _ := m.IssuePair(ctx, now, "u", "e@x.com", []string{"user"})
	p2, _ := m.IssuePair(ctx, now, "u", "e@x.com", []string{"user"})

	if err := m.RevokeAllForUser(ctx, "u"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := m.Refresh(ctx, p1.RefreshToken, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected first token revoked, got %v", err)
	}
	if _, err := m.Refresh(ctx, p2.RefreshToken, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected second token revoked, got %v", err)
	}
}

func TestDecodeWithoutVerification(t *testing.T) {
	m, _ := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(context.Background(), now, "user-1", "a@b.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, ok := Decode(pair.AccessToken)
	if !ok {
		t.Fatalf("expected decodable token")
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, ok := Decode("not-a-jwt"); ok {
		t.Fatalf("expected decode failure")
	}
}

func TestIsExpiredAndExpirationDate(t *testing.T) {
	m, _ := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	pair, err := m.IssuePair(context.Background(), now, "u", "e@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	exp, ok := ExpirationDate(pair.AccessToken)
	if !ok {
		t.Fatalf("expected exp claim")
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected exp: %v", exp)
	}

	if IsExpired(pair.AccessToken, now) {
		t.Fatalf("token should not be expired yet")
	}
	if !IsExpired(pair.AccessToken, now.Add(time.Hour)) {
		t.Fatalf("token should be expired")
	}
	if !IsExpired("garbage", now) {
		t.Fatalf("undecodable token must count as expired")
	}
}

func TestMemoryDenylist(t *testing.T) {
	d := NewMemoryDenylist()
	ctx := context.Background()

	if err := d.Add(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}
	denied, err := d.Contains(ctx, "jti-1")
	if err != nil || !denied {
		t.Fatalf("expected denied, got %v %v", denied, err)
	}
	denied, err = d.Contains(ctx, "jti-2")
	if err != nil || denied {
		t.Fatalf("expected not denied, got %v %v", denied, err)
	}
}

func TestMemoryRefreshStoreDeleteExpired(t *testing.T) {
	store := NewMemoryRefreshStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	for _, rec := range []RefreshRecord{
		{ID: "stale", UserID: "u", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-25 * time.Hour)},
		{ID: "live", UserID: "u", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
	} {
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := store.DeleteExpired(ctx, now); err != nil {
		t.Fatalf("delete expired: %v", err)
	}

	if err := store.Consume(ctx, "stale"); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected pruned record gone, got %v", err)
	}
	if err := store.Consume(ctx, "live"); err != nil {
		t.Fatalf("live record must survive pruning: %v", err)
	}
}
