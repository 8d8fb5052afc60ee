package m2m

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-authgate/idgate/internal/bootstrap"
	"github.com/go-authgate/idgate/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type testEnv struct {
	cfg    *config.Config
	issuer *httptest.Server
	api    *httptest.Server
}

// newTestEnv runs an identity server and the resource API it protects.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuerSrv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + issuerSrv.Listener.Addr().String()
	cfg := &config.Config{
		BaseURL:                baseURL,
		DatabaseDriver:         "sqlite",
		DatabaseDSN:            ":memory:",
		SessionStore:           config.SessionStoreDatabase,
		SessionSecret:          "test-session-secret",
		SessionMaxAge:          3600,
		AccessTokenExpiration:  time.Hour,
		IDTokenExpiration:      5 * time.Minute,
		AuthCodeExpiration:     5 * time.Minute,
		RefreshTokenExpiration: time.Hour,
		SigningAlgorithm:       config.SigningAlgorithmES256,
		AutoProvision:          true,
		RateLimitStore:         config.RateLimitStoreMemory,
		ResourceIdentifier:     "api",
		TrustedIssuer:          baseURL,
		KeySetMaxRetries:       1,
		KeySetRetryDelay:       time.Millisecond,
		ClockSkew:              time.Minute,
		ClientID:               "cc1",
		ClientSecret:           "secret",
		ClientScopes:           []string{"api.read"},
	}

	app, err := bootstrap.New(context.Background(), cfg)
	require.NoError(t, err)
	issuerSrv.Config.Handler = app.Router
	issuerSrv.Start()

	resource := bootstrap.NewResourceServer(cfg, issuerSrv.Client())
	apiSrv := httptest.NewServer(resource.Router)
	cfg.ResourceURL = apiSrv.URL

	t.Cleanup(func() {
		apiSrv.Close()
		issuerSrv.Close()
		_ = app.Close()
	})
	return &testEnv{cfg: cfg, issuer: issuerSrv, api: apiSrv}
}

func (e *testEnv) options() Options {
	return Options{
		Issuer:       e.cfg.TrustedIssuer,
		ClientID:     e.cfg.ClientID,
		ClientSecret: e.cfg.ClientSecret,
		Scopes:       e.cfg.ClientScopes,
		ResourceURL:  e.cfg.ResourceURL,
	}
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), env.cfg, &out))

	var forecast []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &forecast))
	require.Len(t, forecast, 5)
	assert.Contains(t, forecast[0], "summary")
}

func TestClient_TokenAndIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := New(ctx, env.options())
	require.NoError(t, err)

	tok, err := client.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.Type())
	assert.Equal(t, "api.read", tok.Extra("scope"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)

	var claims []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	require.NoError(t, client.Get(ctx, "/identity", &claims))
	byType := map[string]string{}
	for _, c := range claims {
		byType[c.Type] = c.Value
	}
	assert.Equal(t, "cc1", byType["sub"])
	assert.Equal(t, "cc1", byType["client_id"])
	assert.Equal(t, env.cfg.TrustedIssuer, byType["iss"])
}

func TestClient_InsufficientScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	opts := env.options()
	opts.Scopes = []string{"api.write"}
	client, err := New(ctx, opts)
	require.NoError(t, err)

	var forecast []map[string]any
	err = client.Get(ctx, "/weatherforecast", &forecast)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, statusErr.WWWAuthenticate, "insufficient_scope")
}

func TestClient_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("wrong secret", func(t *testing.T) {
		opts := env.options()
		opts.ClientSecret = "wrong"
		client, err := New(ctx, opts)
		require.NoError(t, err)

		_, err = client.Token(ctx)
		var retrieveErr *oauth2.RetrieveError
		require.ErrorAs(t, err, &retrieveErr)
		assert.Equal(t, "invalid_client", retrieveErr.ErrorCode)
	})

	t.Run("unknown scope", func(t *testing.T) {
		opts := env.options()
		opts.Scopes = []string{"api.delete"}
		client, err := New(ctx, opts)
		require.NoError(t, err)

		_, err = client.Token(ctx)
		var retrieveErr *oauth2.RetrieveError
		require.ErrorAs(t, err, &retrieveErr)
		assert.Equal(t, "invalid_scope", retrieveErr.ErrorCode)
	})

	t.Run("missing secret", func(t *testing.T) {
		opts := env.options()
		opts.ClientSecret = ""
		_, err := New(ctx, opts)
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		opts := env.options()
		opts.Issuer = env.issuer.URL + "/other"
		_, err := New(ctx, opts)
		assert.Error(t, err)
	})
}

func TestClient_RetriesResourceAPI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		env.api.Config.Handler.ServeHTTP(w, r)
	}))
	defer flaky.Close()

	opts := env.options()
	opts.ResourceURL = flaky.URL
	client, err := New(ctx, opts)
	require.NoError(t, err)

	var forecast []map[string]any
	require.NoError(t, client.Get(ctx, "/weatherforecast", &forecast))
	assert.Len(t, forecast, 5)
	assert.Equal(t, int32(2), calls.Load())
}
