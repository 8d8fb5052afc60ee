package bootstrap

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/keys"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/provisioning"
	"github.com/go-authgate/idgate/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	dbInitTimeout    = 30 * time.Second
	redisConnTimeout = 5 * time.Second
	redisKeyPrefix   = "idgate:"
)

// initializeMetrics returns Prometheus metrics or a no-op recorder
func initializeMetrics(cfg *config.Config) metrics.Recorder {
	m := metrics.Init(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		log.Info().Msg("Prometheus metrics initialized")
	} else {
		log.Info().Msg("Metrics disabled (using noop implementation)")
	}
	return m
}

// initializeDatabase creates and migrates the database connection
func initializeDatabase(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, dbInitTimeout)
	defer cancel()

	db, err := store.New(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info().Str("driver", cfg.DatabaseDriver).Msg("Database initialized")
	return db, nil
}

// initializeRedis connects the Redis client shared by the session store and
// the rate limiters. Returns nil when neither uses Redis.
func initializeRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	needed := cfg.SessionStore == config.SessionStoreRedis ||
		(cfg.EnableRateLimit && cfg.RateLimitStore == config.RateLimitStoreRedis)
	if !needed {
		return nil, nil //nolint:nilnil // redis client not needed in this configuration
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, redisConnTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("Redis client initialized")
	return client, nil
}

// initializeSessionStore picks where codes, refresh tokens and consents live
func initializeSessionStore(cfg *config.Config, db *store.Store, rdb redis.UniversalClient) core.SessionStore {
	if cfg.SessionStore == config.SessionStoreRedis && rdb != nil {
		log.Info().Msg("Session store: redis")
		return store.NewRedisSessionStore(rdb, redisKeyPrefix)
	}
	log.Info().Msg("Session store: database")
	return db
}

// initializeKeys restores or creates the signing keys. Retired keys stay
// published for the longest token lifetime.
func initializeKeys(
	ctx context.Context,
	cfg *config.Config,
	db *store.Store,
	m metrics.Recorder,
) (*keys.Manager, error) {
	opts := keys.Options{
		Algorithm: cfg.SigningAlgorithm,
		Grace:     cfg.MaxTokenLifetime(),
		Metrics:   m,
	}
	if cfg.PersistSigningKeys {
		opts.Persister = db
	}
	if cfg.SigningKeyFile != "" {
		signer, err := keys.LoadPrivateKeyFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, err
		}
		opts.Bootstrap = signer
		opts.Algorithm = bootstrapAlgorithm(signer, cfg.SigningAlgorithm)
	}

	km, err := keys.NewManager(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	return km, nil
}

// bootstrapAlgorithm keeps rotated keys the same type as the configured key file.
func bootstrapAlgorithm(signer crypto.Signer, fallback string) string {
	alg, err := keys.AlgorithmFor(signer)
	if err != nil {
		return fallback
	}
	if alg != fallback {
		log.Warn().
			Str("configured", fallback).
			Str("key_file", alg).
			Msg("SIGNING_ALGORITHM does not match SIGNING_KEY_FILE, using the key file type")
	}
	return alg
}

// provision seeds clients, scopes, resources and users from the manifest
func provision(ctx context.Context, cfg *config.Config, w provisioning.Writer) error {
	manifest, err := provisioning.LoadFile(cfg.ProvisioningFile)
	if err != nil {
		return err
	}
	sum, err := provisioning.Seed(ctx, w, manifest)
	if err != nil {
		return err
	}
	for clientID, secret := range sum.GeneratedSecrets {
		// Printed once; only the hash is stored
		log.Warn().Str("client_id", clientID).Str("client_secret", secret).Msg("Generated client secret")
	}
	return nil
}

// Provision runs provisioning against the configured database and exits.
func Provision(ctx context.Context, cfg *config.Config) error {
	db, err := initializeDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return provision(ctx, cfg, db)
}
