package bootstrap

import (
	"context"
	"net/http"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/handlers"
	"github.com/go-authgate/idgate/internal/logging"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/middleware"
	"github.com/go-authgate/idgate/internal/validator"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Scopes the sample API enforces.
const (
	scopeAPIRead  = "api.read"
	scopeAPIWrite = "api.write"
)

// ResourceApplication is the sample API protected by access tokens from
// the trusted issuer.
type ResourceApplication struct {
	Config    *config.Config
	Metrics   metrics.Recorder
	KeySet    *validator.RemoteKeySet
	Validator *validator.Validator
	Router    *gin.Engine
	Server    *http.Server
}

// RunResourceServer initializes the sample API and serves until a shutdown signal.
func RunResourceServer(_ context.Context, cfg *config.Config) error {
	app := NewResourceServer(cfg, nil)

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		app.KeySet.Run(ctx)
		return nil
	})
	addServerRunningJob(m, "resource server", app.Server)
	addServerShutdownJob(m, app.Server)

	log.Info().
		Str("addr", cfg.ResourceAddr).
		Str("issuer", cfg.TrustedIssuer).
		Str("audience", cfg.ResourceIdentifier).
		Msg("Resource server starting")

	<-m.Done()
	return nil
}

// NewResourceServer wires the sample API. httpClient is used for discovery
// and JWKS fetches; nil uses a client with the configured fetch timeout.
func NewResourceServer(cfg *config.Config, httpClient *http.Client) *ResourceApplication {
	app := &ResourceApplication{
		Config:  cfg,
		Metrics: initializeMetrics(cfg),
	}
	app.KeySet = validator.NewRemoteKeySet(validator.RemoteOptions{
		Issuer:           cfg.TrustedIssuer,
		HTTPClient:       httpClient,
		FetchTimeout:     cfg.KeySetFetchTimeout,
		RefreshInterval:  cfg.KeySetRefreshInterval,
		MinRefreshPeriod: cfg.KeySetMinRefreshPeriod,
		MaxRetries:       cfg.KeySetMaxRetries,
		RetryDelay:       cfg.KeySetRetryDelay,
		Metrics:          app.Metrics,
	})
	app.Validator = validator.New(app.KeySet, validator.Options{
		Issuer:    cfg.TrustedIssuer,
		Audience:  cfg.ResourceIdentifier,
		ClockSkew: cfg.ClockSkew,
		Metrics:   app.Metrics,
	})
	app.Router = app.setupRouter()
	app.Server = createHTTPServer(cfg.ResourceAddr, app.Router)
	return app
}

func (app *ResourceApplication) setupRouter() *gin.Engine {
	cfg := app.Config
	setupGinMode(cfg)
	r := gin.New()

	r.Use(middleware.RequestContext())
	r.Use(logging.RequestLogger("api"), gin.Recovery())
	r.Use(metrics.HTTPMetricsMiddleware(app.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	setupMetricsEndpoint(r, cfg)

	h := handlers.NewResourceHandler()
	realm := cfg.ResourceIdentifier
	v := app.Validator

	r.GET("/identity", v.RequireScope(realm, ""), h.Identity)
	r.GET("/weatherforecast", v.RequireScope(realm, scopeAPIRead), h.WeatherForecast)

	api := r.Group("/api")
	{
		api.GET("/data", v.RequireScope(realm, scopeAPIRead), h.ListData)
		api.POST("/data", v.RequireScope(realm, scopeAPIWrite), h.CreateData)
	}
	return r
}
