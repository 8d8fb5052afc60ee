package middleware

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// OriginSource lists the browser origins registered by clients.
type OriginSource interface {
	AllowedOrigins(ctx context.Context) ([]string, error)
}

const originLookupTimeout = 2 * time.Second

// CORS answers preflight requests and decorates responses for the origins
// registered by clients, or every origin when allowAll is set.
func CORS(origins OriginSource, allowAll bool) gin.HandlerFunc {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{"WWW-Authenticate", RequestIDHeader},
		MaxAge:         600,
	}
	if allowAll {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowOriginFunc = func(origin string) bool {
			ctx, cancel := context.WithTimeout(context.Background(), originLookupTimeout)
			defer cancel()
			allowed, err := origins.AllowedOrigins(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to load allowed origins")
				return false
			}
			return slices.Contains(allowed, origin)
		}
	}
	handler := cors.New(opts)

	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			// Preflight status was already written.
			c.Abort()
			return
		}
		c.Next()
	}
}
