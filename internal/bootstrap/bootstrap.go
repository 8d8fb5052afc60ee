package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/discovery"
	"github.com/go-authgate/idgate/internal/grant"
	"github.com/go-authgate/idgate/internal/keys"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/registry"
	"github.com/go-authgate/idgate/internal/store"
	"github.com/go-authgate/idgate/internal/token"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Application holds all initialized components of the identity server
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB       *store.Store
	Sessions core.SessionStore
	Redis    redis.UniversalClient
	Metrics  metrics.Recorder

	// Protocol engine
	Keys      *keys.Manager
	Registry  *registry.Registry
	Issuer    *token.Issuer
	Grants    *grant.Handler
	Discovery *discovery.Publisher

	// HTTP
	Router *gin.Engine
	Server *http.Server
}

// Run initializes the identity server and serves until a shutdown signal.
func Run(ctx context.Context, cfg *config.Config) error {
	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	app.startWithGracefulShutdown()
	return nil
}

// New wires every component without starting any listener or job.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}

	// Phase 1: Initialize infrastructure
	if err := app.initializeInfrastructure(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	// Phase 2: Initialize protocol engine
	if err := app.initializeProtocolEngine(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	// Phase 3: Initialize HTTP layer
	router, err := app.setupRouter()
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Router = router
	app.Server = createHTTPServer(cfg.ServerAddr, app.Router)

	return app, nil
}

// initializeInfrastructure sets up metrics, database, Redis and the session store
func (app *Application) initializeInfrastructure(ctx context.Context) error {
	var err error

	app.Metrics = initializeMetrics(app.Config)

	app.DB, err = initializeDatabase(ctx, app.Config)
	if err != nil {
		return err
	}

	if app.Config.AutoProvision {
		if err := provision(ctx, app.Config, app.DB); err != nil {
			return err
		}
	}

	app.Redis, err = initializeRedis(ctx, app.Config)
	if err != nil {
		return err
	}

	app.Sessions = initializeSessionStore(app.Config, app.DB, app.Redis)
	return nil
}

// initializeProtocolEngine sets up keys, registry, token issuer and grants
func (app *Application) initializeProtocolEngine(ctx context.Context) error {
	cfg := app.Config

	var err error
	app.Keys, err = initializeKeys(ctx, cfg, app.DB, app.Metrics)
	if err != nil {
		return err
	}

	app.Registry = registry.New(app.DB, cfg.RegistryCacheTTL)
	app.Issuer = token.NewIssuer(cfg.BaseURL, app.Keys, cfg.AccessTokenExpiration, cfg.IDTokenExpiration)
	app.Grants = grant.NewHandler(app.Registry, app.Sessions, app.Issuer, grant.Options{
		AuthCodeLifetime:     cfg.AuthCodeExpiration,
		RefreshTokenLifetime: cfg.RefreshTokenExpiration,
		EnableRefreshTokens:  cfg.EnableRefreshTokens,
		Metrics:              app.Metrics,
	})
	app.Discovery = discovery.NewPublisher(cfg.BaseURL, app.Registry, app.Keys, discovery.Options{
		SigningAlgorithms:   []string{app.Keys.Current().Algorithm},
		EnableRefreshTokens: cfg.EnableRefreshTokens,
	})

	log.Info().
		Str("issuer", cfg.BaseURL).
		Str("kid", app.Keys.Current().ID).
		Str("session_store", cfg.SessionStore).
		Msg("Protocol engine initialized")
	return nil
}

// startWithGracefulShutdown starts the server and background jobs and blocks
// until they have all stopped
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, "identity server", app.Server)
	addServerShutdownJob(m, app.Server)
	addKeyMaintenanceJob(m, app.Config, app.Keys)
	addCleanupJob(m, app.Config, app.Sessions, app.Metrics)
	addRedisClientShutdownJob(m, app.Redis)
	addStoreShutdownJob(m, app.DB)

	log.Info().
		Str("addr", app.Config.ServerAddr).
		Str("discovery", app.Config.BaseURL+discovery.PathDiscovery).
		Msg("Identity server starting")

	<-m.Done()
}

// Close releases the database and Redis connections.
func (app *Application) Close() error {
	var err error
	if app.Redis != nil {
		err = app.Redis.Close()
	}
	if app.DB != nil {
		if cerr := app.DB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close application: %w", err)
	}
	return nil
}
