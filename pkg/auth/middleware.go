package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
)

// ContextUserIDKey is the gin context key carrying the authenticated user.
const ContextUserIDKey = "user_id"

// tokenCache memoizes verified tokens so hot clients skip signature checks.
var tokenCache = gocache.New(time.Minute, 5*time.Minute)

// Middleware returns the gin handler enforcing bearer authentication.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "missing bearer token",
			})
			return
		}

		if cached, found := tokenCache.Get(token); found {
			c.Set(ContextUserIDKey, cached.(string))
			c.Next()
			return
		}

		userID, err := svc.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "invalid or expired token",
			})
			return
		}

		tokenCache.Set(token, userID, gocache.DefaultExpiration)
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// UserID extracts the authenticated user from the gin context.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ContextUserIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
