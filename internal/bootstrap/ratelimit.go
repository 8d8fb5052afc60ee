package bootstrap

import (
	"fmt"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// rateLimitMiddlewares holds rate limiting middlewares for different endpoints
type rateLimitMiddlewares struct {
	token     gin.HandlerFunc
	authorize gin.HandlerFunc
	login     gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration
func setupRateLimiting(cfg *config.Config, redisClient redis.UniversalClient) (rateLimitMiddlewares, error) {
	noOpMiddleware := func(c *gin.Context) { c.Next() }
	if !cfg.EnableRateLimit {
		log.Info().Msg("Rate limiting disabled")
		return rateLimitMiddlewares{
			token:     noOpMiddleware,
			authorize: noOpMiddleware,
			login:     noOpMiddleware,
		}, nil
	}

	if cfg.RateLimitStore != config.RateLimitStoreRedis {
		// A Redis client may exist for the session store only
		redisClient = nil
		log.Info().Msg("In-memory rate limiting configured (single instance only)")
	} else {
		log.Info().Msg("Using shared Redis client for rate limiting")
	}

	createLimiter := func(name string, requestsPerMinute int) (gin.HandlerFunc, error) {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			Name:              name,
			RequestsPerMinute: requestsPerMinute,
			Redis:             redisClient,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter for %s: %w", name, err)
		}
		return limiter, nil
	}

	var (
		limiters rateLimitMiddlewares
		err      error
	)
	if limiters.token, err = createLimiter("token", cfg.TokenRateLimit); err != nil {
		return limiters, err
	}
	if limiters.authorize, err = createLimiter("authorize", cfg.AuthorizeRateLimit); err != nil {
		return limiters, err
	}
	if limiters.login, err = createLimiter("login", cfg.LoginRateLimit); err != nil {
		return limiters, err
	}
	return limiters, nil
}
