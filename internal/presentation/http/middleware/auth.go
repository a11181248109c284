package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/security"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

const userIDKey = "userID"

// AuthMiddleware requires a valid bearer token on the request. The token
// subject is stored in the gin context for downstream handlers.
func AuthMiddleware(logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			logger.System().Warn("Unauthorized access attempt", "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := security.ValidateJWT(tokenString, config.JWTSecret)
		if err != nil {
			logger.System().Warn("Token validation failed", "path", c.Request.URL.Path, "error", err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		c.Set(userIDKey, security.SubjectFromClaims(claims))
		c.Next()
	}
}

// OptionalAuthMiddleware resolves the bearer token when present but never
// rejects the request. Presence joins accept anonymous traffic.
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if claims, err := security.ValidateJWT(tokenString, config.JWTSecret); err == nil {
				c.Set(userIDKey, security.SubjectFromClaims(claims))
			}
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user ID resolved by the auth
// middleware, or "" for anonymous requests.
func GetUserID(c *gin.Context) string {
	if v, exists := c.Get(userIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
