package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-authgate/idgate/internal/grant"
	"github.com/go-authgate/idgate/internal/middleware"
	"github.com/go-authgate/idgate/internal/oauth"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxStateLength bounds the state echoed back to the client.
const maxStateLength = 1024

// AuthorizationHandler serves the authorize endpoint. Routes must run behind
// middleware.RequireLogin.
type AuthorizationHandler struct {
	grants *grant.Handler
}

func NewAuthorizationHandler(grants *grant.Handler) *AuthorizationHandler {
	return &AuthorizationHandler{grants: grants}
}

// Authorize issues an authorization code to the logged-in subject and
// redirects back to the client (RFC 6749 §4.1.1). Errors that leave the
// redirect URI untrusted are rendered as JSON instead of redirected.
func (h *AuthorizationHandler) Authorize(c *gin.Context) {
	subject, authTime := middleware.Subject(c)
	q := c.Request.URL.Query()

	state := q.Get("state")
	if len(state) > maxStateLength {
		c.JSON(http.StatusBadRequest, oauth.ToError(oauth.Wrap(oauth.ErrInvalidRequest, "state is too long")))
		return
	}

	result, err := h.grants.Authorize(c.Request.Context(), grant.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               state,
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Subject:             subject,
		AuthTime:            authTime,
	})
	if err != nil {
		oe := oauth.ToAuthorizeError(err)
		zerolog.Ctx(c.Request.Context()).Debug().
			Err(err).
			Str("client_id", q.Get("client_id")).
			Str("error", oe.Code).
			Msg("Authorization request rejected")

		if !grant.IsRedirectable(err) {
			c.JSON(http.StatusBadRequest, oe)
			return
		}
		redirectWithError(c, q.Get("redirect_uri"), state, oe)
		return
	}

	u, err := url.Parse(result.RedirectURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, oauth.ToAuthorizeError(oauth.Wrap(oauth.ErrRedirectMismatch, "invalid redirect_uri")))
		return
	}
	params := u.Query()
	params.Set("code", result.Code)
	if result.State != "" {
		params.Set("state", result.State)
	}
	u.RawQuery = params.Encode()
	c.Redirect(http.StatusFound, u.String())
}

// redirectWithError sends an OAuth error to the client's redirect URI with
// the original state.
func redirectWithError(c *gin.Context, redirectURI, state string, oe *oauth.Error) {
	u, err := url.Parse(redirectURI)
	if redirectURI == "" || err != nil {
		c.JSON(http.StatusBadRequest, oe)
		return
	}
	q := u.Query()
	q.Set("error", oe.Code)
	if oe.Description != "" {
		q.Set("error_description", oe.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}
