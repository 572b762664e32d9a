package apikey

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aegisx/internal/config"
)

func testService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo, config.APIKeyConfig{})
	return svc, repo
}

func TestCreate_ReturnsPlaintextOnce(t *testing.T) {
	svc, repo := testService()
	ctx := context.Background()

	key, plaintext, err := svc.Create(ctx, "user-1", "ci", []string{"read:*"}, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(plaintext, "ak_") {
		t.Fatalf("unexpected key format: %q", plaintext)
	}
	if key.KeyHash == "" || strings.Contains(plaintext, key.KeyHash) {
		t.Fatalf("hash must be set and must not appear in the plaintext key")
	}

	stored, err := repo.FindByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.KeyHash != key.KeyHash {
		t.Fatalf("expected hash persisted")
	}
}

func TestCreate_RejectsInvalidArgs(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "", "ci", []string{"read:*"}, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing user, got %v", err)
	}
	if _, _, err := svc.Create(ctx, "u", " ", []string{"read:*"}, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank name, got %v", err)
	}
	if _, _, err := svc.Create(ctx, "u", "ci", nil, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty scopes, got %v", err)
	}
	if _, _, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, []string{"not-an-ip"}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad allowlist ip, got %v", err)
	}
}

func TestAuthorize_ScopeWildcard(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, plaintext, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Authorize(ctx, plaintext, "read:users", "10.0.0.5"); err != nil {
		t.Fatalf("expected read:users covered by read:*, got %v", err)
	}
	if _, err := svc.Authorize(ctx, plaintext, "write:users", "10.0.0.5"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected write:users denied, got %v", err)
	}
}

func TestAuthorize_IPAllowlist(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, plaintext, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, []string{"127.0.0.1"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Authorize(ctx, plaintext, "read:users", "127.0.0.1"); err != nil {
		t.Fatalf("expected allowlisted ip accepted, got %v", err)
	}
	if _, err := svc.Authorize(ctx, plaintext, "read:users", "10.0.0.5"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign ip denied, got %v", err)
	}
	if _, err := svc.Authorize(ctx, plaintext, "read:users", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected missing ip denied when allowlist set, got %v", err)
	}
}

func TestAuthorize_UnknownAndTamperedKeys(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, plaintext, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Authorize(ctx, "ak_nope.secret", "read:users", "1.1.1.1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown key denied, got %v", err)
	}
	if _, err := svc.Authorize(ctx, "garbage", "read:users", "1.1.1.1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected malformed key denied, got %v", err)
	}
	tampered := plaintext + "x"
	if _, err := svc.Authorize(ctx, tampered, "read:users", "1.1.1.1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected tampered secret denied, got %v", err)
	}
}

func TestAuthorize_RevokedAndExpired(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	key, plaintext, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Authorize(ctx, plaintext, "read:users", "1.1.1.1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected revoked key denied, got %v", err)
	}

	exp := time.Now().Add(time.Minute)
	_, plaintext2, err := svc.Create(ctx, "u", "short", []string{"read:*"}, nil, &exp)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc.clock = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := svc.Authorize(ctx, plaintext2, "read:users", "1.1.1.1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired key denied, got %v", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	svc, repo := testService()
	ctx := context.Background()

	key, _, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	stored, _ := repo.FindByID(ctx, key.ID)
	first := *stored.RevokedAt

	if err := svc.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("second revoke must not error: %v", err)
	}
	stored, _ = repo.FindByID(ctx, key.ID)
	if !stored.RevokedAt.Equal(first) {
		t.Fatalf("second revoke must not move revoked_at")
	}

	if err := svc.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown key, got %v", err)
	}
}

func TestList_NeverExposesSecret(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, plaintext, err := svc.Create(ctx, "u", "ci", []string{"read:*"}, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	keys, err := svc.List(ctx, "u")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key")
	}
	// The stored hash is not the secret, and the plaintext never appears.
	if strings.Contains(plaintext, keys[0].KeyHash) {
		t.Fatalf("hash must not be derivable from listing")
	}
}

func TestScopeCovered(t *testing.T) {
	if !ScopeCovered([]string{"*"}, "write:anything") {
		t.Fatalf("* must cover everything")
	}
	if !ScopeCovered([]string{"read:users"}, "read:users") {
		t.Fatalf("exact match must cover")
	}
	if ScopeCovered([]string{"read:users"}, "read:orders") {
		t.Fatalf("exact scope must not cover siblings")
	}
	if ScopeCovered([]string{"read:*"}, "readx:users") {
		t.Fatalf("prefix match must respect the colon boundary")
	}
}
