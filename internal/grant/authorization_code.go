package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/oauth"
	"github.com/go-authgate/idgate/internal/registry"
	"github.com/go-authgate/idgate/internal/token"

	"github.com/rs/zerolog/log"
)

// AuthorizeRequest carries the authorize endpoint parameters together with
// the authenticated end-user.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string

	Subject  string
	AuthTime time.Time
}

// AuthorizeResult is what the client receives on its redirect URI.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
	State       string
	Scopes      []string
	ExpiresAt   time.Time
}

// IsRedirectable reports whether an authorize error may be sent to the
// redirect URI. Unknown clients and unregistered redirect URIs must never be
// redirected to.
func IsRedirectable(err error) bool {
	return !errors.Is(err, oauth.ErrInvalidClient) && !errors.Is(err, oauth.ErrRedirectMismatch)
}

// Authorize validates an authorization request and issues a single-use code
// bound to the client, redirect URI, subject and granted scopes.
func (h *Handler) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	const grantType = oauth.GrantTypeAuthorizationCode

	client, err := h.registry.LookupClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, registry.ErrClientNotFound) {
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidClient, "unknown client"))
		}
		return nil, h.fail(grantType, err)
	}
	// Exact string comparison, no normalization
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrRedirectMismatch,
			"redirect_uri is not registered for client %s", client.ClientID))
	}

	if req.ResponseType != oauth.ResponseTypeCode {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrUnsupportedResponseType,
			"response_type must be %q", oauth.ResponseTypeCode))
	}
	if !client.AllowsGrant(grantType) {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrUnauthorizedGrant,
			"client %s may not use %s", client.ClientID, grantType))
	}
	if req.Subject == "" {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrAccessDenied, "no authenticated end-user"))
	}

	granted, err := h.registry.ValidateClientScopes(ctx, client, oauth.ParseScope(req.Scope))
	if err != nil {
		return nil, h.fail(grantType, err)
	}

	if err := checkPKCERequest(client, req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, h.fail(grantType, err)
	}
	if len(req.Nonce) > maxNonceLength {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidRequest, "nonce is too long"))
	}

	plain, hash, err := newOpaqueToken()
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	now := h.opts.Now()
	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = now
	}
	code := &models.AuthorizationCode{
		CodeHash:            hash,
		ClientID:            client.ClientID,
		Subject:             req.Subject,
		RedirectURI:         req.RedirectURI,
		Scopes:              oauth.JoinScope(granted),
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            authTime,
		ExpiresAt:           now.Add(h.opts.AuthCodeLifetime),
		CreatedAt:           now,
	}
	if err := h.sessions.CreateAuthorizationCode(ctx, code); err != nil {
		return nil, h.fail(grantType, fmt.Errorf("failed to save authorization code: %w", err))
	}

	consent := &models.Consent{
		Subject:   req.Subject,
		ClientID:  client.ClientID,
		Scopes:    code.Scopes,
		GrantedAt: now,
		ExpiresAt: now.Add(h.opts.ConsentLifetime),
	}
	if err := h.sessions.SaveConsent(ctx, consent); err != nil {
		// The code is already valid; a missing consent record only affects bookkeeping
		log.Warn().Err(err).Str("client_id", client.ClientID).Msg("Failed to save consent")
	}

	log.Debug().
		Str("client_id", client.ClientID).
		Str("subject", req.Subject).
		Str("scope", code.Scopes).
		Bool("pkce", req.CodeChallenge != "").
		Msg("Authorization code issued")

	return &AuthorizeResult{
		Code:        plain,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Scopes:      granted,
		ExpiresAt:   code.ExpiresAt,
	}, nil
}

func checkPKCERequest(client *models.Client, challenge, method string) error {
	if challenge == "" {
		if method != "" {
			return oauth.Wrap(oauth.ErrInvalidRequest, "code_challenge_method without code_challenge")
		}
		if !client.IsConfidential() || client.RequirePKCE {
			return oauth.Wrap(oauth.ErrInvalidRequest, "code_challenge is required for this client")
		}
		return nil
	}
	if method != oauth.CodeChallengeMethodS256 {
		return oauth.Wrap(oauth.ErrInvalidRequest, "code_challenge_method must be %s", oauth.CodeChallengeMethodS256)
	}
	// An S256 challenge is a base64url SHA-256 digest
	if len(challenge) != 43 {
		return oauth.Wrap(oauth.ErrInvalidRequest, "malformed code_challenge")
	}
	return nil
}

// RedeemCode runs the token phase of the authorization_code grant.
// Checks run in order: code state, redirect URI, client, PKCE. Only then is
// the code consumed; a lost race on consumption is an ordinary invalid_grant.
func (h *Handler) RedeemCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	start := time.Now()
	const grantType = oauth.GrantTypeAuthorizationCode

	if req.Code == "" {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidRequest, "code is required"))
	}
	hash := hashValue(req.Code)
	now := h.opts.Now()

	code, err := h.sessions.GetAuthorizationCode(ctx, hash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			h.metrics.RecordCodeRedemption("not_found")
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "authorization code is invalid"))
		}
		return nil, h.fail(grantType, err)
	}
	if code.IsUsed() {
		h.metrics.RecordCodeRedemption("replayed")
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "authorization code was already used"))
	}
	if code.IsExpired(now) {
		h.metrics.RecordCodeRedemption("expired")
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "authorization code expired"))
	}

	if req.RedirectURI != code.RedirectURI {
		h.metrics.RecordCodeRedemption("redirect_mismatch")
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrRedirectMismatch,
			"redirect_uri does not match the authorization request"))
	}

	client, err := h.registry.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	if client.ClientID != code.ClientID {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidClient,
			"authorization code was issued to another client"))
	}

	switch {
	case code.CodeChallenge != "":
		if !verifyPKCE(code.CodeChallenge, req.CodeVerifier) {
			h.metrics.RecordCodeRedemption("pkce_failed")
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "code_verifier does not match"))
		}
	case req.CodeVerifier != "":
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "code_verifier without code_challenge"))
	}

	if err := h.sessions.ConsumeAuthorizationCode(ctx, hash, now); err != nil {
		if errors.Is(err, core.ErrAlreadyConsumed) || errors.Is(err, core.ErrNotFound) {
			h.metrics.RecordCodeRedemption("replayed")
			log.Warn().Str("client_id", client.ClientID).Msg("Concurrent authorization code redemption rejected")
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "authorization code was already used"))
		}
		return nil, h.fail(grantType, fmt.Errorf("failed to consume authorization code: %w", err))
	}
	h.metrics.RecordCodeRedemption("success")

	resp, err := h.issueUserTokens(ctx, userGrant{
		grantType: grantType,
		client:    client,
		subject:   code.Subject,
		scopes:    code.ScopeList(),
		nonce:     code.Nonce,
		authTime:  code.AuthTime,
	})
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	h.metrics.RecordTokenIssued(grantType, "access", time.Since(start))
	return resp, nil
}

// userGrant is the input shared by code redemption and refresh.
type userGrant struct {
	grantType  string
	client     *models.Client
	subject    string
	scopes     []string // scopes for the new access token
	fullScopes []string // scopes of the refresh token; defaults to scopes
	nonce      string
	authTime   time.Time
	parentHash string
}

// issueUserTokens mints the access token and, when granted, the ID token
// and a refresh token.
func (h *Handler) issueUserTokens(ctx context.Context, g userGrant) (*TokenResponse, error) {
	aud, err := h.audience(ctx, g.scopes)
	if err != nil {
		return nil, err
	}
	access, err := h.issuer.Issue(ctx, token.IssueRequest{
		Subject:  g.subject,
		ClientID: g.client.ClientID,
		Audience: aud,
		Scopes:   g.scopes,
	})
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: access.Raw,
		TokenType:   oauth.TokenTypeBearer,
		ExpiresIn:   access.ExpiresIn(h.opts.Now()),
		Scope:       oauth.JoinScope(g.scopes),
	}

	if oauth.HasScope(g.scopes, oauth.ScopeOpenID) {
		claims, err := h.profileClaims(ctx, g.subject, g.scopes)
		if err != nil {
			return nil, err
		}
		id, err := h.issuer.IssueIDToken(ctx, token.IDTokenRequest{
			Subject:     g.subject,
			ClientID:    g.client.ClientID,
			Nonce:       g.nonce,
			AuthTime:    g.authTime,
			AccessToken: access.Raw,
			Claims:      claims,
		})
		if err != nil {
			return nil, err
		}
		resp.IDToken = id.Raw
		h.metrics.RecordTokenIssued(g.grantType, "id", 0)
	}

	fullScopes := g.fullScopes
	if fullScopes == nil {
		fullScopes = g.scopes
	}
	if h.opts.EnableRefreshTokens &&
		oauth.HasScope(fullScopes, oauth.ScopeOfflineAccess) &&
		g.client.AllowsGrant(oauth.GrantTypeRefreshToken) {
		refresh, err := h.createRefreshToken(ctx, g, fullScopes)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refresh
		h.metrics.RecordTokenIssued(g.grantType, "refresh", 0)
	}

	return resp, nil
}

// profileClaims returns the identity claims the granted scopes allow.
func (h *Handler) profileClaims(ctx context.Context, subject string, scopes []string) (map[string]any, error) {
	user, err := h.registry.User(ctx, subject)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, oauth.Wrap(oauth.ErrInvalidGrant, "subject no longer exists")
		}
		return nil, err
	}
	return ProfileClaims(user, scopes), nil
}

// ProfileClaims maps a user onto OIDC standard claims gated by scope.
func ProfileClaims(user *models.User, scopes []string) map[string]any {
	claims := make(map[string]any)
	if oauth.HasScope(scopes, oauth.ScopeProfile) {
		if user.Name != "" {
			claims["name"] = user.Name
		}
		claims["preferred_username"] = user.Username
		claims["updated_at"] = user.UpdatedAt.Unix()
	}
	if oauth.HasScope(scopes, oauth.ScopeEmail) && user.Email != "" {
		claims["email"] = user.Email
		claims["email_verified"] = user.EmailVerified
	}
	return claims
}
