package grant

import (
	"context"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/token"
)

// Registry is the read side of clients, scopes, resources and users.
type Registry interface {
	LookupClient(ctx context.Context, clientID string) (*models.Client, error)
	AuthenticateClient(ctx context.Context, clientID, secret string) (*models.Client, error)
	ValidateClientScopes(ctx context.Context, client *models.Client, requested []string) ([]string, error)
	DefaultScopes(ctx context.Context, client *models.Client) ([]string, error)
	Audience(ctx context.Context, scopes []string) ([]string, error)
	User(ctx context.Context, subject string) (*models.User, error)
}

// Issuer signs access and ID tokens.
type Issuer interface {
	Identifier() string
	Issue(ctx context.Context, req token.IssueRequest) (*token.SignedToken, error)
	IssueIDToken(ctx context.Context, req token.IDTokenRequest) (*token.SignedToken, error)
}

// TokenRequest is the union of token endpoint parameters.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string
	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string
	// refresh_token
	RefreshToken string
}

// TokenResponse is the successful token endpoint response (RFC 6749 §5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Options tune lifetimes and feature switches.
type Options struct {
	AuthCodeLifetime     time.Duration
	RefreshTokenLifetime time.Duration
	ConsentLifetime      time.Duration
	EnableRefreshTokens  bool
	Metrics              core.Recorder
	Now                  func() time.Time
}

const (
	defaultAuthCodeLifetime     = 5 * time.Minute
	defaultRefreshTokenLifetime = 30 * 24 * time.Hour
	defaultConsentLifetime      = 90 * 24 * time.Hour

	// maxNonceLength bounds the nonce echoed into ID tokens.
	maxNonceLength = 512
)

// Handler runs the grant state machines. It is safe for concurrent use.
type Handler struct {
	registry Registry
	sessions core.SessionStore
	issuer   Issuer
	opts     Options
	metrics  core.Recorder
}

// NewHandler wires a Handler.
func NewHandler(registry Registry, sessions core.SessionStore, issuer Issuer, opts Options) *Handler {
	if opts.AuthCodeLifetime <= 0 {
		opts.AuthCodeLifetime = defaultAuthCodeLifetime
	}
	if opts.RefreshTokenLifetime <= 0 {
		opts.RefreshTokenLifetime = defaultRefreshTokenLifetime
	}
	if opts.ConsentLifetime <= 0 {
		opts.ConsentLifetime = defaultConsentLifetime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &Handler{
		registry: registry,
		sessions: sessions,
		issuer:   issuer,
		opts:     opts,
		metrics:  m,
	}
}
