package main

import (
	"telecom-dialer/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	h.Register(r, authMW)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found", "code": "not_found"})
	})
}
