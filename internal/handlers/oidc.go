package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/grant"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/validator"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UserDirectory resolves subjects to their profiles.
type UserDirectory interface {
	User(ctx context.Context, subject string) (*models.User, error)
}

// OIDCHandler serves the userinfo endpoint. Routes must run behind
// validator.RequireScope with the openid scope.
type OIDCHandler struct {
	users UserDirectory
	realm string
}

func NewOIDCHandler(users UserDirectory, realm string) *OIDCHandler {
	return &OIDCHandler{users: users, realm: realm}
}

// UserInfo returns the claims of the token's subject gated by its scopes
// (OIDC Core §5.3).
func (h *OIDCHandler) UserInfo(c *gin.Context) {
	claims, ok := validator.ClaimsFromContext(c)
	if !ok {
		validator.Unauthorized(c, h.realm)
		return
	}

	user, err := h.users.User(c.Request.Context(), claims.Subject)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("User lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		// Client credentials tokens carry a client as subject.
		validator.Unauthorized(c, h.realm)
		return
	}
	if !user.IsActive {
		validator.Unauthorized(c, h.realm)
		return
	}

	out := grant.ProfileClaims(user, claims.Scopes())
	out["sub"] = user.ID
	noStore(c)
	c.JSON(http.StatusOK, out)
}
