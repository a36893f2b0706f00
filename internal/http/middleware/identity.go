package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the caller's identity. Token verification happens in
// front of this service; by the time a request arrives the header is trusted.
const HeaderUserID = "X-User-ID"

const (
	userIDKey    = "userID"
	maxUserIDLen = 64
)

// Identity copies X-User-ID into the request context so that logging, rate
// limiting and idempotency see the same caller. It never rejects a request;
// pair it with RequireUser on routes that need a caller.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" && len(uid) <= maxUserIDLen {
			c.Set(userIDKey, uid)
		}
		c.Next()
	}
}

// RequireUser aborts with 401 when Identity found no caller.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "X-User-ID header required",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the caller stored by Identity, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
