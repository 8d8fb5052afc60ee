package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/oauth"

	"github.com/rs/zerolog/log"
)

// RevokeRequest is an RFC 7009 revocation request.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// Refresh exchanges a refresh token for new tokens (RFC 6749 §6). Refresh
// tokens rotate: the presented token is consumed and a successor is issued
// with the original scopes. The request may only narrow the access token's
// scopes.
func (h *Handler) Refresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	start := time.Now()
	const grantType = oauth.GrantTypeRefreshToken

	if req.RefreshToken == "" {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidRequest, "refresh_token is required"))
	}
	hash := hashValue(req.RefreshToken)
	now := h.opts.Now()

	client, err := h.registry.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	if !client.AllowsGrant(grantType) {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrUnauthorizedGrant,
			"client %s may not use %s", client.ClientID, grantType))
	}

	rt, err := h.sessions.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "refresh token is invalid"))
		}
		return nil, h.fail(grantType, err)
	}
	if rt.ClientID != client.ClientID {
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "refresh token was issued to another client"))
	}
	if !rt.IsActive(now) {
		if rt.UsedAt != nil {
			log.Warn().
				Str("client_id", client.ClientID).
				Str("subject", rt.Subject).
				Msg("Rotated refresh token presented again")
		}
		return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "refresh token is no longer valid"))
	}

	original := rt.ScopeList()
	scopes := original
	if requested := oauth.ParseScope(req.Scope); len(requested) > 0 {
		for _, s := range requested {
			if !oauth.HasScope(original, s) {
				return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidScope,
					"scope %q was not part of the original grant", s))
			}
		}
		scopes = requested
	}

	if err := h.sessions.ConsumeRefreshToken(ctx, hash, now); err != nil {
		if errors.Is(err, core.ErrAlreadyConsumed) || errors.Is(err, core.ErrNotFound) {
			return nil, h.fail(grantType, oauth.Wrap(oauth.ErrInvalidGrant, "refresh token is no longer valid"))
		}
		return nil, h.fail(grantType, fmt.Errorf("failed to consume refresh token: %w", err))
	}

	resp, err := h.issueUserTokens(ctx, userGrant{
		grantType:  grantType,
		client:     client,
		subject:    rt.Subject,
		scopes:     scopes,
		fullScopes: original,
		authTime:   rt.AuthTime,
		parentHash: hash,
	})
	if err != nil {
		return nil, h.fail(grantType, err)
	}
	h.metrics.RecordTokenIssued(grantType, "access", time.Since(start))
	return resp, nil
}

func (h *Handler) createRefreshToken(ctx context.Context, g userGrant, scopes []string) (string, error) {
	plain, hash, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := h.opts.Now()
	rt := &models.RefreshToken{
		TokenHash:  hash,
		ClientID:   g.client.ClientID,
		Subject:    g.subject,
		Scopes:     oauth.JoinScope(scopes),
		ParentHash: g.parentHash,
		AuthTime:   g.authTime,
		ExpiresAt:  now.Add(h.opts.RefreshTokenLifetime),
		CreatedAt:  now,
	}
	if err := h.sessions.CreateRefreshToken(ctx, rt); err != nil {
		return "", fmt.Errorf("failed to save refresh token: %w", err)
	}
	return plain, nil
}

// Revoke invalidates a refresh token (RFC 7009). Unknown tokens and tokens
// belonging to other clients succeed silently. Access tokens are
// self-contained and expire on their own, so revoking one is a no-op.
func (h *Handler) Revoke(ctx context.Context, req RevokeRequest) error {
	client, err := h.registry.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return err
	}
	if req.Token == "" {
		return oauth.Wrap(oauth.ErrInvalidRequest, "token is required")
	}

	hash := hashValue(req.Token)
	rt, err := h.sessions.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return err
	}
	if rt.ClientID != client.ClientID {
		log.Warn().
			Str("client_id", client.ClientID).
			Str("owner", rt.ClientID).
			Msg("Revocation of a foreign refresh token ignored")
		return nil
	}

	if err := h.sessions.RevokeRefreshToken(ctx, hash, h.opts.Now()); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	log.Info().Str("client_id", client.ClientID).Str("subject", rt.Subject).Msg("Refresh token revoked")
	return nil
}
