package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-authgate/idgate/internal/validator"

	"github.com/gin-gonic/gin"
)

// MetricsAuthMiddleware guards /metrics with a static bearer token. An empty
// token leaves the endpoint open.
func MetricsAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		provided, ok := validator.BearerToken(c.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="metrics"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid bearer token required",
			})
			return
		}

		c.Next()
	}
}
