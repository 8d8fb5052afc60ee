package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/discovery"
	"github.com/go-authgate/idgate/internal/handlers"
	"github.com/go-authgate/idgate/internal/logging"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/middleware"
	"github.com/go-authgate/idgate/internal/oauth"
	"github.com/go-authgate/idgate/internal/validator"
	"github.com/go-authgate/idgate/internal/version"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionCookieName  = "idgate_session"
	healthCheckTimeout = 2 * time.Second
)

// setupRouter configures the Gin router with all routes and middleware
func (app *Application) setupRouter() (*gin.Engine, error) {
	cfg := app.Config
	setupGinMode(cfg)
	r := gin.New()

	r.Use(middleware.RequestContext())
	r.Use(logging.RequestLogger("idserver"), gin.Recovery())
	r.Use(metrics.HTTPMetricsMiddleware(app.Metrics))
	setupSessionMiddleware(r, cfg)

	r.GET("/health", createHealthCheckHandler(app.DB, app.Sessions))
	setupMetricsEndpoint(r, cfg)

	rateLimiters, err := setupRateLimiting(cfg, app.Redis)
	if err != nil {
		return nil, err
	}

	app.setupRoutes(r, rateLimiters)
	return r, nil
}

// setupRoutes registers the protocol endpoints and the login pages
func (app *Application) setupRoutes(r *gin.Engine, limiters rateLimitMiddlewares) {
	cfg := app.Config

	auth := handlers.NewAuthHandler(app.DB, cfg.BaseURL)
	authorization := handlers.NewAuthorizationHandler(app.Grants)
	tokens := handlers.NewTokenHandler(app.Grants, cfg.BaseURL)
	endSession := handlers.NewSessionHandler(app.Registry)
	userInfo := handlers.NewOIDCHandler(app.Registry, cfg.BaseURL)

	// The userinfo endpoint accepts the issuer's own access tokens
	local := validator.New(validator.NewLocalKeySet(app.Keys), validator.Options{
		Issuer:    cfg.BaseURL,
		Audience:  cfg.BaseURL,
		ClockSkew: cfg.ClockSkew,
		Metrics:   app.Metrics,
	})

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, discovery.PathDiscovery)
	})

	// Browser-facing endpoints called from other origins
	cors := middleware.CORS(app.Registry, cfg.CORSAllowAllOrigins)
	preflight := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	for _, path := range []string{
		discovery.PathDiscovery,
		discovery.PathJWKS,
		discovery.PathToken,
		discovery.PathRevocation,
		discovery.PathUserInfo,
	} {
		r.OPTIONS(path, cors, preflight)
	}

	r.GET(discovery.PathDiscovery, cors, app.Discovery.Discovery)
	r.GET(discovery.PathJWKS, cors, app.Discovery.JWKS)

	r.GET(discovery.PathAuthorize,
		limiters.authorize,
		middleware.RequireLogin(handlers.LoginPath),
		authorization.Authorize,
	)
	r.POST(discovery.PathToken, cors, limiters.token, tokens.Token)
	r.POST(discovery.PathRevocation, cors, limiters.token, tokens.Revoke)

	requireOpenID := local.RequireScope(cfg.BaseURL, oauth.ScopeOpenID)
	r.GET(discovery.PathUserInfo, cors, requireOpenID, userInfo.UserInfo)
	r.POST(discovery.PathUserInfo, cors, requireOpenID, userInfo.UserInfo)

	r.GET(discovery.PathEndSession, endSession.EndSession)

	// Login form backing the authorize endpoint
	login := r.Group("")
	login.Use(middleware.CSRFMiddleware())
	{
		login.GET(handlers.LoginPath, auth.LoginPage)
		login.POST(handlers.LoginPath, limiters.login, auth.Login)
		login.POST(handlers.LogoutPath, auth.Logout)
	}
}

// setupSessionMiddleware configures the login session cookie
func setupSessionMiddleware(r *gin.Engine, cfg *config.Config) {
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionCookieName, sessionStore))
}

// setupMetricsEndpoint configures the Prometheus metrics endpoint
func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config) {
	switch {
	case !cfg.MetricsEnabled:
		log.Info().Msg("Prometheus metrics disabled")
	case cfg.MetricsToken != "":
		log.Info().Msg("Prometheus metrics enabled at /metrics with Bearer token authentication")
		r.GET(
			"/metrics",
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		log.Info().Msg("Prometheus metrics enabled at /metrics (no authentication)")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// createHealthCheckHandler reports database and session store reachability
func createHealthCheckHandler(db healthChecker, sessions core.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		body := gin.H{
			"status":        "healthy",
			"database":      "connected",
			"session_store": "connected",
			"build":         version.Info(),
		}
		if err := db.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"], body["database"] = "unhealthy", "disconnected"
		}
		if err := sessions.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"], body["session_store"] = "unhealthy", "disconnected"
		}
		c.JSON(status, body)
	}
}

// setupGinMode sets Gin mode based on environment configuration
func setupGinMode(cfg *config.Config) {
	if gin.Mode() == gin.TestMode {
		return
	}
	mode := ginModeMap[cfg.IsProduction]
	gin.SetMode(mode)
	log.Debug().Str("mode", mode).Msg("Gin mode set")
}

var ginModeMap = map[bool]string{
	true:  gin.ReleaseMode,
	false: gin.DebugMode,
}
