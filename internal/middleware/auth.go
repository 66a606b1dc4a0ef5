package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"opsync/internal/config"
)

// Auth enforces a static bearer token when one is configured. With no token
// configured the check is disabled (local/dev deployments). Device and user
// identity travel in the request body and query string and are passed through
// unmodified.
func Auth(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(cfg.AuthToken)
		if token == "" {
			c.Next()
			return
		}
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(h), "bearer ") || strings.TrimSpace(h[7:]) != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
