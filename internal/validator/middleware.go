package validator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-authgate/idgate/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const claimsKey = "token_claims"

// Every rejected token gets the same body so callers learn nothing about why.
var (
	invalidTokenBody = gin.H{
		"error":             "invalid_token",
		"error_description": "The access token is missing or invalid",
	}
	insufficientScopeBody = gin.H{
		"error":             "insufficient_scope",
		"error_description": "The access token does not grant the required scope",
	}
)

// BearerToken extracts the token from an RFC 6750 Authorization header.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}

// RequireScope authenticates the request with a bearer access token that
// grants scope (any valid token when scope is empty). Missing or rejected
// tokens get 401, valid tokens without the scope get 403.
func (v *Validator) RequireScope(realm, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			Unauthorized(c, realm)
			return
		}

		claims, err := v.Validate(c.Request.Context(), raw, scope)
		if err != nil {
			reason := ReasonOf(err)
			log.Debug().
				Err(err).
				Str("reason", string(reason)).
				Str("path", c.Request.URL.Path).
				Msg("Access token rejected")
			if reason == ReasonInsufficientScope {
				c.Header("WWW-Authenticate",
					fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope", scope=%q`, realm, scope))
				c.AbortWithStatusJSON(http.StatusForbidden, insufficientScopeBody)
				return
			}
			Unauthorized(c, realm)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Unauthorized aborts with the uniform 401 response.
func Unauthorized(c *gin.Context, realm string) {
	c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, realm))
	c.AbortWithStatusJSON(http.StatusUnauthorized, invalidTokenBody)
}

// ClaimsFromContext returns the claims stored by RequireScope.
func ClaimsFromContext(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok
}
