// Package m2m is the machine-to-machine demo client: it obtains an access
// token with the client_credentials grant and calls the resource API.
package m2m

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/discovery"
	"github.com/go-authgate/idgate/internal/retry"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// ErrMissingSecret is returned when no client secret is configured.
var ErrMissingSecret = errors.New("client secret is required for client_credentials")

// Options configure a Client.
type Options struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	ResourceURL  string
	// HTTPClient is used for discovery, token and API requests.
	HTTPClient *http.Client
}

// Client calls the resource API with tokens from the client_credentials grant.
type Client struct {
	config      clientcredentials.Config
	httpClient  *http.Client
	apiClient   *http.Client
	resourceURL string
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	StatusCode      int
	WWWAuthenticate string
	Body            string
}

func (e *StatusError) Error() string {
	if e.WWWAuthenticate != "" {
		return fmt.Sprintf("resource API returned %d (%s)", e.StatusCode, e.WWWAuthenticate)
	}
	return fmt.Sprintf("resource API returned %d: %s", e.StatusCode, e.Body)
}

// New discovers the token endpoint of opts.Issuer and returns a Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.ClientSecret == "" {
		return nil, ErrMissingSecret
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = retry.NewClient(requestTimeout)
	}

	doc, err := discovery.Fetch(ctx, httpClient, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer: %w", err)
	}

	c := &Client{
		config: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     doc.TokenEndpoint,
			Scopes:       opts.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient:  httpClient,
		resourceURL: strings.TrimRight(opts.ResourceURL, "/"),
	}
	// Token renewals outlive the discovery request
	c.apiClient = c.config.Client(c.context(context.WithoutCancel(ctx)))
	return c, nil
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Token requests a new access token.
func (c *Client) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.config.Token(c.context(ctx))
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	return tok, nil
}

// Get calls path on the resource API and decodes the JSON response into v.
// The access token is cached and renewed before it expires.
func (c *Client) Get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			StatusCode:      resp.StatusCode,
			WWWAuthenticate: resp.Header.Get("WWW-Authenticate"),
			Body:            string(body),
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Run requests a token with the configured client and prints the weather
// forecast returned by the resource API to out.
func Run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	client, err := New(ctx, Options{
		Issuer:       cfg.TrustedIssuer,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.ClientScopes,
		ResourceURL:  cfg.ResourceURL,
		HTTPClient: retry.NewClient(requestTimeout,
			retry.WithMaxRetries(cfg.KeySetMaxRetries),
			retry.WithInitialRetryDelay(cfg.KeySetRetryDelay),
		),
	})
	if err != nil {
		return err
	}

	tok, err := client.Token(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("client_id", cfg.ClientID).
		Interface("scope", tok.Extra("scope")).
		Time("expires_at", tok.Expiry).
		Msg("Access token obtained")

	var forecast []map[string]any
	if err := client.Get(ctx, "/weatherforecast", &forecast); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(forecast)
}
