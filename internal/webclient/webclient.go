// Package webclient is the confidential server-side demo client. It signs
// users in with the authorization_code grant and PKCE, verifies the ID token
// and calls the resource API with the access token.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-authgate/idgate/internal/logging"
	"github.com/go-authgate/idgate/internal/middleware"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

const (
	sessionName    = "webclient_session"
	requestTimeout = 10 * time.Second
)

// Options configure an App.
type Options struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// PostLogoutRedirectURL defaults to the root of RedirectURL.
	PostLogoutRedirectURL string
	Scopes                []string
	ResourceURL           string
	SessionSecret         string
	SecureCookies         bool
	// HTTPClient is used for discovery, JWKS, token and API requests.
	HTTPClient *http.Client
}

// App is the web client: its OIDC provider metadata, OAuth2 configuration
// and routes.
type App struct {
	opts          Options
	httpClient    *http.Client
	provider      *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	oauth         oauth2.Config
	endSessionURL string
	Router        *gin.Engine
}

// providerMetadata holds the discovery fields go-oidc does not expose.
type providerMetadata struct {
	EndSessionEndpoint string   `json:"end_session_endpoint"`
	SigningAlgorithms  []string `json:"id_token_signing_alg_values_supported"`
}

// New discovers the issuer and wires the web client routes.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("web client requires a client id and secret")
	}
	if opts.RedirectURL == "" {
		return nil, errors.New("web client requires a redirect URL")
	}
	if opts.PostLogoutRedirectURL == "" {
		root, err := rootOf(opts.RedirectURL)
		if err != nil {
			return nil, err
		}
		opts.PostLogoutRedirectURL = root
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	// The provider keeps this context for JWKS fetches after New returns.
	providerCtx := oidc.ClientContext(context.WithoutCancel(ctx), httpClient)
	provider, err := oidc.NewProvider(providerCtx, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer %s: %w", opts.Issuer, err)
	}
	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	app := &App{
		opts:       opts,
		httpClient: httpClient,
		provider:   provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID:             opts.ClientID,
			SupportedSigningAlgs: meta.SigningAlgorithms,
		}),
		oauth: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
		},
		endSessionURL: meta.EndSessionEndpoint,
	}
	app.oauth.Endpoint.AuthStyle = oauth2.AuthStyleInHeader

	callbackPath, err := pathOf(opts.RedirectURL)
	if err != nil {
		return nil, err
	}
	app.Router = app.setupRouter(callbackPath)
	return app, nil
}

func (a *App) setupRouter(callbackPath string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestContext())
	r.Use(logging.RequestLogger("webclient"), gin.Recovery())

	store := memstore.NewStore([]byte(a.opts.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int((8 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(middleware.CSRFMiddleware())

	r.GET("/", a.Home)
	r.GET("/login", a.Login)
	r.GET(callbackPath, a.Callback)
	r.GET("/api", a.CallAPI)
	r.POST("/logout", a.Logout)
	return r
}

// context carries the client's HTTP client to oauth2 and go-oidc.
func (a *App) context(ctx context.Context) context.Context {
	return context.WithValue(oidc.ClientContext(ctx, a.httpClient), oauth2.HTTPClient, a.httpClient)
}

func rootOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid redirect URL %q", raw)
	}
	return u.Scheme + "://" + u.Host + "/", nil
}

func pathOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL %q: %w", raw, err)
	}
	if u.Path == "" || u.Path == "/" || strings.Contains(u.Path, ":") {
		return "", fmt.Errorf("redirect URL %q needs a callback path", raw)
	}
	return u.Path, nil
}
