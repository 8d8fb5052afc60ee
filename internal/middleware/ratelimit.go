package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterRedis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// RateLimitConfig configures a per-client-IP limiter.
type RateLimitConfig struct {
	// Name prefixes the store keys so endpoints keep separate buckets.
	Name              string
	RequestsPerMinute int
	CleanupInterval   time.Duration
	// Redis shares counters across instances; nil keeps them in memory.
	Redis redis.UniversalClient
}

// NewRateLimiter returns a middleware answering 429 with an OAuth style JSON
// body once a client IP exceeds its budget.
func NewRateLimiter(config RateLimitConfig) (gin.HandlerFunc, error) {
	if config.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", config.RequestsPerMinute)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	prefix := "ratelimit"
	if config.Name != "" {
		prefix += ":" + config.Name
	}
	opts := limiter.StoreOptions{Prefix: prefix, CleanUpInterval: config.CleanupInterval}

	var store limiter.Store
	if config.Redis != nil {
		var err error
		store, err = limiterRedis.NewStoreWithOptions(config.Redis, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(opts)
	}

	instance := limiter.New(store, limiter.Rate{
		Period: time.Minute,
		Limit:  int64(config.RequestsPerMinute),
	})

	return mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			log.Warn().
				Str("limiter", config.Name).
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Please try again later.",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// Fail open when the counter store is unavailable.
			log.Error().Err(err).Str("limiter", config.Name).Msg("Rate limiter store error")
			c.Next()
		}),
	), nil
}
