package auth

import (
	"context"
	"errors"
	"time"

	"aegisx/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clock skew tolerance
const verifyLeeway = 30 * time.Second

// Manager issues and verifies signed token pairs.
//
// Token state machine: issued -> (valid | expired | revoked).
// Expiry is passive (encoded in the token); revocation is explicit and lives
// in the RefreshStore, keyed by jti. Access-token revocation on logout is the
// denylist's job, not the Manager's.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration

	refresh RefreshStore
}

func NewManager(cfg config.AuthConfig, refresh RefreshStore) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if refresh == nil {
		return nil, errors.New("refresh store is required")
	}

	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		refresh:    refresh,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

/* ===================== ISSUE TOKENS ===================== */

// IssuePair signs an access/refresh pair from the same subject claims.
// The refresh token's jti is registered in the store so rotation can consume
// it exactly once. Issuance is the commit point: cancelling the request after
// IssuePair returns does not retract the tokens.
func (m *Manager) IssuePair(ctx context.Context, now time.Time, userID, email string, roles []string) (TokenPair, error) {
	access, _, err := m.issue(now, TokenTypeAccess, userID, email, roles, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, refreshJTI, err := m.issue(now, TokenTypeRefresh, userID, email, roles, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	rec := RefreshRecord{
		ID:        refreshJTI,
		UserID:    userID,
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now,
	}
	if err := m.refresh.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

/* ===================== VERIFY TOKEN ===================== */

// Verify checks signature, expiry, registered claims and the token_type
// claim. It never partially trusts an unverified payload.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(verifyLeeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	parser := jwt.NewParser(opts...)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}

	// Custom claims validation
	if claims.TokenType != expected {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserID == "" || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	if expected == TokenTypeAccess && len(claims.Roles) == 0 {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

/* ===================== ROTATE ===================== */

// Refresh verifies a refresh token, consumes its jti (single-use rotation)
// and issues a new pair with the same subject claims.
//
// The store consume is a conditional single-row update, so two concurrent
// Refresh calls with the same token cannot both succeed.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, now time.Time) (TokenPair, error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}

	if err := m.refresh.Consume(ctx, claims.ID); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}

	return m.IssuePair(ctx, now, claims.UserID, claims.Email, claims.Roles)
}

// RevokeRefresh consumes a refresh token's jti without issuing a new pair
// (logout path). A second call for the same token returns ErrInvalidToken.
func (m *Manager) RevokeRefresh(ctx context.Context, refreshToken string, now time.Time) (Claims, error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return Claims{}, err
	}
	if err := m.refresh.Consume(ctx, claims.ID); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return Claims{}, ErrInvalidToken
		}
		return Claims{}, err
	}
	return claims, nil
}

// RevokeAllForUser invalidates every outstanding refresh token for a user
// (password change, account compromise).
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	return m.refresh.RevokeAllForUser(ctx, userID)
}

/* ===================== INSPECTION (UNVERIFIED) ===================== */

// Decode extracts claims without verifying the signature.
// For inspection and logging only; never use the result for authorization.
func Decode(tokenString string) (Claims, bool) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return Claims{}, false
	}
	return claims, true
}

// ExpirationDate returns the unverified exp claim.
func ExpirationDate(tokenString string) (time.Time, bool) {
	claims, ok := Decode(tokenString)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired reports whether the unverified exp claim has passed.
// Missing or undecodable exp is treated as expired.
func IsExpired(tokenString string, now time.Time) bool {
	exp, ok := ExpirationDate(tokenString)
	if !ok {
		return true
	}
	return now.After(exp)
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(
	now time.Time,
	tokenType TokenType,
	userID,
	email string,
	roles []string,
	ttl time.Duration,
) (string, string, error) {

	jti := uuid.NewString()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		UserID:    userID,
		Email:     email,
		Roles:     roles,
		TokenType: tokenType,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
