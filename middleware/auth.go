package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vnkhanh/timesheet-server/utils"
)

const (
	CtxUserID    = "user_id"
	CtxUserEmail = "user_email"
)

// AuthJWT checks Authorization: Bearer <token> and injects the claims into
// the context. User records live in the main app; the shared-secret token is
// the only identity this service needs.
func AuthJWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing or invalid Authorization header"})
			return
		}
		rawToken := strings.TrimSpace(authHeader[7:])

		claims, err := utils.VerifyToken(rawToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid token"})
			return
		}
		if claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid subject"})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserEmail, claims.Email)

		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside AuthJWT.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}

// UserEmail returns the authenticated user's email, or "" outside AuthJWT.
func UserEmail(c *gin.Context) string {
	return c.GetString(CtxUserEmail)
}
