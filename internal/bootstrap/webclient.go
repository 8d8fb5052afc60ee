package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/retry"
	"github.com/go-authgate/idgate/internal/webclient"

	"github.com/appleboy/graceful"
	"github.com/rs/zerolog/log"
)

// NewWebClient wires the demo web client against the trusted issuer.
func NewWebClient(ctx context.Context, cfg *config.Config) (*webclient.App, error) {
	setupGinMode(cfg)
	return webclient.New(ctx, webclient.Options{
		Issuer:        cfg.TrustedIssuer,
		ClientID:      cfg.WebClientID,
		ClientSecret:  cfg.WebClientSecret,
		RedirectURL:   cfg.WebClientRedirect,
		Scopes:        cfg.WebClientScopes,
		ResourceURL:   cfg.ResourceURL,
		SessionSecret: cfg.WebClientSessionKey,
		SecureCookies: cfg.IsProduction,
		HTTPClient: retry.NewClient(cfg.KeySetFetchTimeout,
			retry.WithMaxRetries(cfg.KeySetMaxRetries),
			retry.WithInitialRetryDelay(cfg.KeySetRetryDelay),
		),
	})
}

// RunWebClient serves the demo web client until a shutdown signal.
func RunWebClient(ctx context.Context, cfg *config.Config) error {
	app, err := NewWebClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize web client: %w", err)
	}
	srv := createHTTPServer(cfg.WebClientAddr, app.Router)

	m := graceful.NewManager()
	addServerRunningJob(m, "web client", srv)
	addServerShutdownJob(m, srv)

	log.Info().
		Str("addr", cfg.WebClientAddr).
		Str("issuer", cfg.TrustedIssuer).
		Str("client_id", cfg.WebClientID).
		Msg("Web client starting")

	<-m.Done()
	return nil
}
