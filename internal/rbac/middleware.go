package rbac

import (
	"net/http"

	"aegisx/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole allows the request through when the authenticated identity
// holds at least one of the given roles. It must run after the access token
// middleware; a request with no identity is treated as unauthenticated, not
// forbidden.
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		held, err := auth.Roles(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		for _, r := range held {
			if _, ok := allowed[r]; ok {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}
