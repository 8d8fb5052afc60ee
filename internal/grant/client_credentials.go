package grant

import (
	"context"
	"time"

	"github.com/go-authgate/idgate/internal/oauth"
	"github.com/go-authgate/idgate/internal/token"

	"github.com/rs/zerolog/log"
)

// ClientCredentials runs the client_credentials grant (RFC 6749 §4.4).
// Checks run in order: client authentication, grant permission, scopes.
// Nothing is persisted and no refresh token is issued.
func (h *Handler) ClientCredentials(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	start := time.Now()
	const grantType = oauth.GrantTypeClientCredentials

	client, err := h.registry.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	if !client.AllowsGrant(grantType) {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrUnauthorizedGrant,
			"client %s may not use %s", client.ClientID, grantType))
	}

	requested := oauth.ParseScope(req.Scope)
	if len(requested) == 0 {
		if requested, err = h.registry.DefaultScopes(ctx, client); err != nil {
			return nil, h.fail(grantType, err)
		}
	}
	for _, s := range requested {
		if oauth.IsIdentityScope(s) {
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidScope,
				"scope %q requires an end-user", s))
		}
	}
	granted, err := h.registry.ValidateClientScopes(ctx, client, requested)
	if err != nil {
		return nil, h.fail(grantType, err)
	}

	aud, err := h.registry.Audience(ctx, granted)
	if err != nil {
		return nil, h.fail(grantType, err)
	}

	access, err := h.issuer.Issue(ctx, token.IssueRequest{
		Subject:  client.ClientID,
		ClientID: client.ClientID,
		Audience: aud,
		Scopes:   granted,
	})
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	h.metrics.RecordTokenIssued(grantType, "access", time.Since(start))

	log.Debug().
		Str("client_id", client.ClientID).
		Str("scope", oauth.JoinScope(granted)).
		Str("jti", access.Claims.ID).
		Msg("Client credentials token issued")

	return &TokenResponse{
		AccessToken: access.Raw,
		TokenType:   oauth.TokenTypeBearer,
		ExpiresIn:   access.ExpiresIn(h.opts.Now()),
		Scope:       oauth.JoinScope(granted),
	}, nil
}

// Exchange dispatches a token endpoint request on its grant_type.
func (h *Handler) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case oauth.GrantTypeClientCredentials:
		return h.ClientCredentials(ctx, req)
	case oauth.GrantTypeAuthorizationCode:
		return h.RedeemCode(ctx, req)
	case oauth.GrantTypeRefreshToken:
		if !h.opts.EnableRefreshTokens {
			return nil, h.fail(req.GrantType, oauth.Wrap(oauth.ErrUnsupportedGrantType, "refresh tokens are disabled"))
		}
		return h.Refresh(ctx, req)
	case "":
		return nil, oauth.Wrap(oauth.ErrInvalidRequest, "grant_type is required")
	default:
		return nil, oauth.Wrap(oauth.ErrUnsupportedGrantType, "grant type %q is not supported", req.GrantType)
	}
}
