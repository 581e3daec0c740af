package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"acfleet/auth"
)

type MiddlewareManager struct {
	auth *auth.AuthModule
}

func NewMiddlewareManager(authModule *auth.AuthModule) *MiddlewareManager {
	return &MiddlewareManager{auth: authModule}
}

// RequireAuth validates the bearer token and stores the user id in the
// request context under "user_id".
func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := m.auth.ValidateToken(c.GetHeader("Authorization"))
		if err != nil {
			log.Printf("WEB: Authentication error: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// UserID reads the authenticated user id set by RequireAuth.
func UserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}
