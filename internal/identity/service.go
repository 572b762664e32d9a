package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"aegisx/internal/audit"
	"aegisx/internal/auth"
	"aegisx/internal/password"

	"github.com/google/uuid"
)

// RoleUser is granted to every new account.
const RoleUser = "user"

// Meta carries request origin details into the audit trail.
type Meta struct {
	IPAddress string
	UserAgent string
}

// RegisterInput is the payload for account creation.
type RegisterInput struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name" binding:"required"`
	PhoneNumber string `json:"phone_number"`
}

// Service orchestrates account and session flows. Every security-relevant
// action emits an audit event; emission is best-effort and cannot fail the
// flow that triggered it.
type Service struct {
	users    UserStore
	tokens   *auth.Manager
	hasher   *password.Hasher
	policy   password.Policy
	deny     auth.Denylist
	events   *audit.Emitter
	throttle LoginThrottle
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(
	users UserStore,
	tokens *auth.Manager,
	hasher *password.Hasher,
	policy password.Policy,
	deny auth.Denylist,
	events *audit.Emitter,
	throttle LoginThrottle,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		policy:   policy,
		deny:     deny,
		events:   events,
		throttle: throttle,
		log:      log,
		clock:    time.Now,
	}
}

/* ===================== REGISTER ===================== */

func (s *Service) Register(ctx context.Context, in RegisterInput, meta Meta) (Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return Profile{}, &PolicyError{Violations: []string{"email is required"}}
	}

	if res := password.Validate(in.Password, s.policy); !res.Valid {
		return Profile{}, &PolicyError{Violations: res.Violations}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Profile{}, err
	}

	now := s.clock().UTC()
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
		Roles:        []string{RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Registration against a taken address probes an existing
			// account, so it goes on the record. Pure input-validation
			// failures above do not.
			s.events.Emit(ctx, audit.Event{
				Action:    audit.ActionRegisterFailure,
				Actor:     audit.ActorSystem,
				TargetID:  email,
				Reason:    "email already registered",
				IPAddress: meta.IPAddress,
				UserAgent: meta.UserAgent,
			})
		}
		return Profile{}, err
	}

	s.events.Emit(ctx, audit.Event{
		Action:    audit.ActionUserRegistered,
		Actor:     u.ID,
		TargetID:  u.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return u.Profile(), nil
}

/* ===================== LOGIN ===================== */

// Login authenticates by email and password. Unknown email and wrong password
// are indistinguishable to the caller; the audit event carries the real cause.
func (s *Service) Login(ctx context.Context, email, plaintext string, meta Meta) (auth.TokenPair, Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, email)
		if err != nil {
			// Counter outage must not lock everyone out.
			s.log.Warn("login throttle unavailable", "err", err)
		} else if !allowed {
			s.loginFailure(ctx, audit.ActorSystem, email, "rate limited", meta)
			return auth.TokenPair{}, Profile{}, ErrRateLimited
		}
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.loginFailure(ctx, audit.ActorSystem, email, "unknown email", meta)
			return auth.TokenPair{}, Profile{}, ErrInvalidCredentials
		}
		return auth.TokenPair{}, Profile{}, err
	}

	if !s.hasher.Compare(plaintext, u.PasswordHash) {
		s.loginFailure(ctx, u.ID, email, "wrong password", meta)
		return auth.TokenPair{}, Profile{}, ErrInvalidCredentials
	}

	now := s.clock().UTC()
	pair, err := s.tokens.IssuePair(ctx, now, u.ID, u.Email, u.Roles)
	if err != nil {
		return auth.TokenPair{}, Profile{}, err
	}

	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("last login not recorded", "user_id", u.ID, "err", err)
	}
	t := now
	u.LastLoginAt = &t

	s.events.Emit(ctx, audit.Event{
		Action:    audit.ActionLoginSuccess,
		Actor:     u.ID,
		TargetID:  u.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return pair, u.Profile(), nil
}

func (s *Service) loginFailure(ctx context.Context, actor, email, reason string, meta Meta) {
	s.events.Emit(ctx, audit.Event{
		Action:    audit.ActionLoginFailure,
		Actor:     actor,
		TargetID:  email,
		Reason:    reason,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

/* ===================== REFRESH ===================== */

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued. A consumed or invalid token is denied and audited.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta Meta) (auth.TokenPair, error) {
	now := s.clock().UTC()
	pair, err := s.tokens.Refresh(ctx, refreshToken, now)
	if err != nil {
		actor := audit.ActorSystem
		if claims, ok := auth.Decode(refreshToken); ok && claims.UserID != "" {
			actor = claims.UserID
		}
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenExpired) {
			s.events.Emit(ctx, audit.Event{
				Action:    audit.ActionTokenRefreshDenied,
				Actor:     actor,
				Reason:    err.Error(),
				IPAddress: meta.IPAddress,
				UserAgent: meta.UserAgent,
			})
		}
		return auth.TokenPair{}, err
	}

	claims, _ := auth.Decode(pair.RefreshToken)
	s.events.Emit(ctx, audit.Event{
		Action:    audit.ActionTokenRefresh,
		Actor:     claims.UserID,
		TargetID:  claims.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return pair, nil
}

/* ===================== LOGOUT ===================== */

// Logout invalidates a session: the refresh token is consumed and the access
// token's jti is denylisted for its remaining lifetime. Logout is idempotent;
// an already-consumed refresh token does not fail the call.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string, meta Meta) error {
	now := s.clock().UTC()
	actor := audit.ActorSystem

	claims, err := s.tokens.Verify(accessToken, auth.TokenTypeAccess, now)
	if err == nil {
		actor = claims.UserID
		if claims.ExpiresAt != nil {
			if remaining := claims.ExpiresAt.Time.Sub(now) + verifyLeewayPad; remaining > 0 {
				if err := s.deny.Add(ctx, claims.ID, remaining); err != nil {
					return err
				}
			}
		}
	}

	if refreshToken != "" {
		rc, err := s.tokens.RevokeRefresh(ctx, refreshToken, now)
		switch {
		case err == nil:
			actor = rc.UserID
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
			// Already consumed or expired; logout stays idempotent.
		default:
			return err
		}
	}

	s.events.Emit(ctx, audit.Event{
		Action:    audit.ActionLogout,
		Actor:     actor,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// Denylist entries outlive the token by the verifier's clock skew allowance.
const verifyLeewayPad = time.Minute

/* ===================== PROFILE ===================== */

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrUnauthenticated
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}

/* ===================== CHANGE PASSWORD ===================== */

// credentialRotator is implemented by stores that can swap the password hash
// and revoke outstanding refresh tokens atomically (PostgresUserStore does
// this in one transaction). Stores without it get the two-step fallback.
type credentialRotator interface {
	RotateCredentials(ctx context.Context, id, passwordHash string, at time.Time) error
}

// ChangePassword verifies the current password, applies the policy to the new
// one, and revokes every outstanding refresh token for the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string, meta Meta) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	if res := password.Validate(next, s.policy); !res.Valid {
		return &PolicyError{Violations: res.Violations}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	if rotator, ok := s.users.(credentialRotator); ok {
		if err := rotator.RotateCredentials(ctx, u.ID, hash, now); err != nil {
			return err
		}
	} else {
		if err := s.users.UpdatePassword(ctx, u.ID, hash, now); err != nil {
			return err
		}
		if err := s.tokens.RevokeAllForUser(ctx, u.ID); err != nil {
			return err
		}
	}

	s.events.Emit(ctx, audit.Event{
		Action:    audit.ActionPasswordChanged,
		Actor:     u.ID,
		TargetID:  u.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}
