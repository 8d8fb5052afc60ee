package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-authgate/idgate/internal/grant"
	"github.com/go-authgate/idgate/internal/oauth"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TokenHandler serves the token and revocation endpoints.
type TokenHandler struct {
	grants *grant.Handler
	realm  string
}

func NewTokenHandler(grants *grant.Handler, realm string) *TokenHandler {
	return &TokenHandler{grants: grants, realm: realm}
}

// Token exchanges a grant for tokens (RFC 6749 §3.2).
// Errors are JSON with status 400, except invalid_client (401) and server_error (500).
func (h *TokenHandler) Token(c *gin.Context) {
	noStore(c)

	clientID, clientSecret, err := clientCredentials(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.grants.Exchange(c.Request.Context(), grant.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        c.PostForm("scope"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		CodeVerifier: c.PostForm("code_verifier"),
		RefreshToken: c.PostForm("refresh_token"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Revoke invalidates a refresh token (RFC 7009). Unknown tokens succeed.
func (h *TokenHandler) Revoke(c *gin.Context) {
	noStore(c)

	clientID, clientSecret, err := clientCredentials(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	err = h.grants.Revoke(c.Request.Context(), grant.RevokeRequest{
		Token:         c.PostForm("token"),
		TokenTypeHint: c.PostForm("token_type_hint"),
		ClientID:      clientID,
		ClientSecret:  clientSecret,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *TokenHandler) writeError(c *gin.Context, err error) {
	status := oauth.StatusFor(err)
	oe := oauth.ToError(err)

	event := zerolog.Ctx(c.Request.Context()).Debug()
	if status == http.StatusInternalServerError {
		event = zerolog.Ctx(c.Request.Context()).Error()
	}
	event.Err(err).Str("error", oe.Code).Str("path", c.Request.URL.Path).Msg("Token endpoint error")

	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.realm))
	}
	c.JSON(status, oe)
}

// clientCredentials reads client authentication from HTTP Basic
// (client_secret_basic) or the form body (client_secret_post). Using both
// methods at once is rejected.
func clientCredentials(c *gin.Context) (string, string, error) {
	formID, formSecret := c.PostForm("client_id"), c.PostForm("client_secret")

	user, pass, ok := c.Request.BasicAuth()
	if !ok {
		if c.GetHeader("Authorization") != "" {
			return "", "", oauth.Wrap(oauth.ErrInvalidClient, "unsupported authorization scheme")
		}
		return formID, formSecret, nil
	}

	if formSecret != "" {
		return "", "", oauth.Wrap(oauth.ErrInvalidRequest, "multiple client authentication methods")
	}
	// Basic credentials are form-urlencoded first (RFC 6749 §2.3.1).
	id, errID := url.QueryUnescape(user)
	secret, errSecret := url.QueryUnescape(pass)
	if err := errors.Join(errID, errSecret); err != nil || id == "" {
		return "", "", oauth.Wrap(oauth.ErrInvalidClient, "malformed basic credentials")
	}
	if formID != "" && formID != id {
		return "", "", oauth.Wrap(oauth.ErrInvalidRequest, "client_id does not match authorization header")
	}
	return id, secret, nil
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
