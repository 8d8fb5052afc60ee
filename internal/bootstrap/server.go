package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/keys"
	"github.com/go-authgate/idgate/internal/store"

	"github.com/appleboy/graceful"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout   = 5 * time.Second
	keyPruneInterval  = time.Minute
	cleanupJobTimeout = 30 * time.Second
)

// createHTTPServer creates the HTTP server instance
func createHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, name string, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Str("server", name).Msg("Failed to start server")
			}
		}()
		<-ctx.Done()
		return nil
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(m *graceful.Manager, srv *http.Server) {
	m.AddShutdownJob(func() error {
		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}

		log.Info().Msg("Server exited")
		return nil
	})
}

// addKeyMaintenanceJob rotates the signing key on schedule and prunes
// retired keys whose grace period has ended
func addKeyMaintenanceJob(m *graceful.Manager, cfg *config.Config, km *keys.Manager) {
	m.AddRunningJob(func(ctx context.Context) error {
		prune := time.NewTicker(keyPruneInterval)
		defer prune.Stop()

		var rotate <-chan time.Time
		if cfg.KeyRotationInterval > 0 {
			ticker := time.NewTicker(cfg.KeyRotationInterval)
			defer ticker.Stop()
			rotate = ticker.C
			log.Info().Dur("interval", cfg.KeyRotationInterval).Msg("Scheduled key rotation enabled")
		}

		for {
			select {
			case <-rotate:
				if _, err := km.Rotate(ctx); err != nil {
					log.Error().Err(err).Msg("Scheduled key rotation failed")
				}
			case now := <-prune.C:
				if _, err := km.Prune(ctx, now); err != nil {
					log.Error().Err(err).Msg("Failed to prune retired signing keys")
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// addCleanupJob periodically deletes expired codes, refresh tokens and consents
func addCleanupJob(m *graceful.Manager, cfg *config.Config, sessions core.SessionStore, recorder core.Recorder) {
	if cfg.CleanupInterval <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runCleanup(ctx, sessions, recorder)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func runCleanup(ctx context.Context, sessions core.SessionStore, recorder core.Recorder) {
	ctx, cancel := context.WithTimeout(ctx, cleanupJobTimeout)
	defer cancel()

	deleted, err := sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired session records")
		return
	}
	recorder.RecordCleanup(deleted)
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Expired session records deleted")
	}
}

// addRedisClientShutdownJob adds Redis client shutdown handler
func addRedisClientShutdownJob(m *graceful.Manager, redisClient redis.UniversalClient) {
	if redisClient == nil {
		return
	}

	m.AddShutdownJob(func() error {
		log.Info().Msg("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis client")
			return err
		}
		log.Info().Msg("Redis connection closed")
		return nil
	})
}

// addStoreShutdownJob closes the database pool
func addStoreShutdownJob(m *graceful.Manager, db *store.Store) {
	m.AddShutdownJob(func() error {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
			return err
		}
		return nil
	})
}
