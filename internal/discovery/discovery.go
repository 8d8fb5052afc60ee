package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-authgate/idgate/internal/oauth"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Endpoint paths, relative to the issuer.
const (
	PathDiscovery  = "/.well-known/openid-configuration"
	PathJWKS       = "/.well-known/jwks.json"
	PathAuthorize  = "/connect/authorize"
	PathToken      = "/connect/token"
	PathUserInfo   = "/connect/userinfo"
	PathRevocation = "/connect/revocation"
	PathEndSession = "/connect/endsession"
)

const defaultMaxAge = 5 * time.Minute

// maxDocumentSize bounds discovery and JWKS responses read from the network.
const maxDocumentSize = 1 << 20

// ErrIssuerMismatch is returned by Fetch when the document names another issuer.
var ErrIssuerMismatch = errors.New("discovery document issuer mismatch")

// Document is the OpenID Provider Metadata (OIDC Discovery 1.0 §3).
type Document struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ScopesSupported                  []string `json:"scopes_supported"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// ScopeSource lists the scopes the issuer knows.
type ScopeSource interface {
	SupportedScopes(ctx context.Context) ([]string, error)
}

// KeySource renders the published verification keys.
type KeySource interface {
	JWKSJSON() ([]byte, error)
}

// Options configure a Publisher.
type Options struct {
	SigningAlgorithms   []string
	EnableRefreshTokens bool
	MaxAge              time.Duration // Cache-Control max-age of both documents
}

// Publisher serves the discovery document and the JWKS of one issuer.
type Publisher struct {
	issuer string
	scopes ScopeSource
	keys   KeySource
	opts   Options
}

// NewPublisher creates a Publisher for issuer.
func NewPublisher(issuer string, scopes ScopeSource, keys KeySource, opts Options) *Publisher {
	if opts.MaxAge <= 0 {
		opts.MaxAge = defaultMaxAge
	}
	if len(opts.SigningAlgorithms) == 0 {
		opts.SigningAlgorithms = []string{"RS256"}
	}
	return &Publisher{
		issuer: strings.TrimRight(issuer, "/"),
		scopes: scopes,
		keys:   keys,
		opts:   opts,
	}
}

// Document builds the provider metadata. Scopes come from the registry so
// newly provisioned scopes are advertised without a restart.
func (p *Publisher) Document(ctx context.Context) (*Document, error) {
	scopes, err := p.scopes.SupportedScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	grants := []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeClientCredentials}
	if p.opts.EnableRefreshTokens {
		grants = append(grants, oauth.GrantTypeRefreshToken)
	}

	return &Document{
		Issuer:                           p.issuer,
		AuthorizationEndpoint:            p.issuer + PathAuthorize,
		TokenEndpoint:                    p.issuer + PathToken,
		UserinfoEndpoint:                 p.issuer + PathUserInfo,
		RevocationEndpoint:               p.issuer + PathRevocation,
		EndSessionEndpoint:               p.issuer + PathEndSession,
		JWKSURI:                          p.issuer + PathJWKS,
		ScopesSupported:                  scopes,
		ResponseTypesSupported:           []string{oauth.ResponseTypeCode},
		GrantTypesSupported:              grants,
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: p.opts.SigningAlgorithms,
		TokenEndpointAuthMethods: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
		CodeChallengeMethodsSupported: []string{oauth.CodeChallengeMethodS256},
		ClaimsSupported: []string{
			"sub",
			"iss",
			"aud",
			"exp",
			"iat",
			"auth_time",
			"nonce",
			"name",
			"preferred_username",
			"email",
			"email_verified",
			"updated_at",
		},
	}, nil
}

// Discovery serves GET /.well-known/openid-configuration.
func (p *Publisher) Discovery(c *gin.Context) {
	doc, err := p.Document(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build discovery document")
		c.JSON(http.StatusInternalServerError, oauth.ToError(err))
		return
	}
	p.cacheHeaders(c)
	c.JSON(http.StatusOK, doc)
}

// JWKS serves GET /.well-known/jwks.json.
func (p *Publisher) JWKS(c *gin.Context) {
	data, err := p.keys.JWKSJSON()
	if err != nil {
		log.Error().Err(err).Msg("Failed to render JWKS")
		c.JSON(http.StatusInternalServerError, oauth.ToError(err))
		return
	}
	p.cacheHeaders(c)
	c.Data(http.StatusOK, "application/jwk-set+json", data)
}

func (p *Publisher) cacheHeaders(c *gin.Context) {
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(p.opts.MaxAge.Seconds())))
}

// Fetch retrieves the discovery document of issuer and checks that it
// describes the same issuer (OIDC Discovery 1.0 §4.3).
func Fetch(ctx context.Context, client *http.Client, issuer string) (*Document, error) {
	issuer = strings.TrimRight(issuer, "/")
	data, err := Get(ctx, client, issuer+PathDiscovery)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if strings.TrimRight(doc.Issuer, "/") != issuer {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrIssuerMismatch, issuer, doc.Issuer)
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("discovery document has no jwks_uri")
	}
	return &doc, nil
}

// StatusError is returned by Get for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Get performs a GET and returns the body of a 200 response.
func Get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, nil
}
