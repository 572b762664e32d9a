package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"aegisx/internal/apikey"
	"aegisx/internal/audit"
	"aegisx/internal/auth"
	"aegisx/internal/identity"
	"aegisx/pkg/logger"
	"aegisx/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Identity *identity.Service
	APIKeys  *apikey.Service
	Events   *audit.Emitter

	// Health probes.
	DB    *sql.DB
	Redis *redis.Client
}

func metaFrom(c *gin.Context) identity.Meta {
	return identity.Meta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeError maps service errors to HTTP statuses. Infrastructure failures
// are never presented as authentication failures.
func writeError(c *gin.Context, err error) {
	var pe *identity.PolicyError
	switch {
	case errors.As(err, &pe):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "password rejected",
			"violations": pe.Violations,
		})
	case errors.Is(err, identity.ErrEmailTaken):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, identity.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, apikey.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, apikey.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, apikey.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		// The response body stays opaque; the real cause goes to the
		// request-scoped log.
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

/* ===================== AUTH ===================== */

func (h Handlers) Register(c *gin.Context) {
	var req identity.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	profile, err := h.Identity.Register(c.Request.Context(), req, metaFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}
	pair, profile, err := h.Identity.Login(c.Request.Context(), req.Email, req.Password, metaFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"user":          profile,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Identity.Refresh(c.Request.Context(), req.RefreshToken, metaFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout accepts the access token from the Authorization header and the
// refresh token from the body. It succeeds even when the tokens are already
// dead so clients can always clear their session.
func (h Handlers) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	accessToken := bearerToken(c)
	if accessToken == "" && req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no token to revoke"})
		return
	}
	if err := h.Identity.Logout(c.Request.Context(), accessToken, req.RefreshToken, metaFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

/* ===================== PROFILE ===================== */

func (h Handlers) Me(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		writeError(c, identity.ErrUnauthenticated)
		return
	}
	profile, err := h.Identity.Profile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h Handlers) ChangePassword(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		writeError(c, identity.ErrUnauthenticated)
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "current_password and new_password required"})
		return
	}
	if err := h.Identity.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword, metaFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ===================== API KEYS ===================== */

type createAPIKeyRequest struct {
	Name        string     `json:"name" binding:"required"`
	Scopes      []string   `json:"scopes" binding:"required"`
	IPAllowlist []string   `json:"ip_allowlist"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CreateAPIKey mints a key for the authenticated user. The plaintext key
// appears in this response and nowhere else.
func (h Handlers) CreateAPIKey(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		writeError(c, identity.ErrUnauthenticated)
		return
	}
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name and scopes required"})
		return
	}

	key, plaintext, err := h.APIKeys.Create(c.Request.Context(), userID, req.Name, req.Scopes, req.IPAllowlist, req.ExpiresAt)
	if err != nil {
		writeError(c, err)
		return
	}

	h.Events.Emit(c.Request.Context(), audit.Event{
		Action:    audit.ActionAPIKeyCreated,
		Actor:     userID,
		TargetID:  key.ID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	c.JSON(http.StatusCreated, gin.H{
		"key":      plaintext,
		"metadata": key,
	})
}

func (h Handlers) ListAPIKeys(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		writeError(c, identity.ErrUnauthenticated)
		return
	}
	keys, err := h.APIKeys.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if keys == nil {
		keys = []apikey.Key{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h Handlers) RevokeAPIKey(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		writeError(c, identity.ErrUnauthenticated)
		return
	}
	keyID := c.Param("key_id")
	if err := h.APIKeys.RevokeOwned(c.Request.Context(), userID, keyID); err != nil {
		writeError(c, err)
		return
	}

	h.Events.Emit(c.Request.Context(), audit.Event{
		Action:    audit.ActionAPIKeyRevoked,
		Actor:     userID,
		TargetID:  keyID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	c.Status(http.StatusNoContent)
}

// AdminRevokeAPIKey revokes any user's key. RBAC: admin.
func (h Handlers) AdminRevokeAPIKey(c *gin.Context) {
	adminID, _ := auth.UserID(c.Request.Context())
	keyID := c.Param("key_id")
	if err := h.APIKeys.Revoke(c.Request.Context(), keyID); err != nil {
		writeError(c, err)
		return
	}

	h.Events.Emit(c.Request.Context(), audit.Event{
		Action:    audit.ActionAPIKeyRevoked,
		Actor:     adminID,
		TargetID:  keyID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	c.Status(http.StatusNoContent)
}

/* ===================== HEALTH ===================== */

func (h Handlers) Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	code := http.StatusOK

	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			status["postgres"] = "down"
			code = http.StatusServiceUnavailable
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(c.Request.Context()).Err(); err != nil {
			status["redis"] = "down"
			code = http.StatusServiceUnavailable
		}
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	c.JSON(code, status)
}
