package main

import (
	"aegisx/internal/apikey"
	"aegisx/internal/httpapi"
	"aegisx/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, apiKeys *apikey.Service) {
	// public
	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")

	// AUTH routes (no bearer token required)
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		// Logout verifies the presented tokens itself so an expired access
		// token can still clear its refresh token.
		authGroup.POST("/logout", h.Logout)
	}

	// Service-to-service routes authenticate by API key instead of a token.
	service := v1.Group("/service")
	service.Use(apikey.RequireAPIKey(apiKeys, "read:status"))
	{
		service.GET("/status", h.Health)
	}

	// protected API group
	protected := v1.Group("")
	protected.Use(authMW)
	{
		protected.GET("/me", h.Me)
		protected.PUT("/me/password", h.ChangePassword)

		keys := protected.Group("/apikeys")
		{
			keys.POST("", h.CreateAPIKey)
			keys.GET("", h.ListAPIKeys)
			keys.DELETE("/:key_id", h.RevokeAPIKey)
		}

		// ADMIN routes
		admin := protected.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.DELETE("/apikeys/:key_id", h.AdminRevokeAPIKey)
		}
	}
}
