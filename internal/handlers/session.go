package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-authgate/idgate/internal/middleware"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/registry"
	"github.com/go-authgate/idgate/internal/templates"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ClientLookup resolves registered clients.
type ClientLookup interface {
	LookupClient(ctx context.Context, clientID string) (*models.Client, error)
}

// SessionHandler serves RP-initiated logout.
type SessionHandler struct {
	clients ClientLookup
}

func NewSessionHandler(clients ClientLookup) *SessionHandler {
	return &SessionHandler{clients: clients}
}

// EndSession clears the login session. The browser is sent to
// post_logout_redirect_uri only when it exactly matches one registered by
// the client named by client_id or by the audience of id_token_hint.
func (h *SessionHandler) EndSession(c *gin.Context) {
	logger := zerolog.Ctx(c.Request.Context())
	if err := middleware.EndLogin(sessions.Default(c)); err != nil {
		logger.Error().Err(err).Msg("Failed to clear login session")
		templates.RenderError(c, http.StatusInternalServerError, "server_error", "Failed to save session")
		return
	}

	target := c.Query("post_logout_redirect_uri")
	if target == "" {
		h.signedOut(c)
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = hintedClient(c.Query("id_token_hint"))
	}
	client, err := h.clients.LookupClient(c.Request.Context(), clientID)
	if err != nil {
		if !errors.Is(err, registry.ErrClientNotFound) {
			logger.Error().Err(err).Msg("Client lookup failed")
		}
		h.signedOut(c)
		return
	}
	if !client.HasPostLogoutRedirectURI(target) {
		logger.Warn().Str("client_id", client.ClientID).Msg("Unregistered post_logout_redirect_uri ignored")
		h.signedOut(c)
		return
	}

	u, err := url.Parse(target)
	if err != nil {
		h.signedOut(c)
		return
	}
	if state := c.Query("state"); state != "" && len(state) <= maxStateLength {
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()
	}
	c.Redirect(http.StatusFound, u.String())
}

func (h *SessionHandler) signedOut(c *gin.Context) {
	templates.Render(c, http.StatusOK, templates.PageSignedOut, templates.SignedOutPageProps{
		BaseProps: templates.BaseProps{Title: "Signed out"},
	})
}

// hintedClient reads the client an ID token was issued to. The signature is
// not checked: the value only selects which registration the redirect is
// matched against.
func hintedClient(idTokenHint string) string {
	if idTokenHint == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idTokenHint, claims); err != nil {
		return ""
	}
	if azp, ok := claims["azp"].(string); ok && azp != "" {
		return azp
	}
	aud, err := claims.GetAudience()
	if err != nil || len(aud) != 1 {
		return ""
	}
	return aud[0]
}
