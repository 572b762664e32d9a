package apikey

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"aegisx/internal/auth"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-Api-Key"

// Authorizer is the minimal service interface needed by middleware.
type Authorizer interface {
	Authorize(ctx context.Context, presentedKey, requiredScope, requestIP string) (Key, error)
}

// RequireAPIKey authorizes a request by API key instead of a bearer token.
// The key's owning user becomes the request identity; RBAC role checks do not
// apply on this path because the scope check already happened here.
func RequireAPIKey(svc Authorizer, requiredScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		key, err := svc.Authorize(c.Request.Context(), presented, requiredScope, c.ClientIP())
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization check unavailable"})
			return
		}

		ctx := auth.WithIdentity(c.Request.Context(), key.UserID, "", nil)
		c.Request = c.Request.WithContext(ctx)

		c.Set("user_id", key.UserID)
		c.Set("api_key_id", key.ID)

		c.Next()
	}
}
