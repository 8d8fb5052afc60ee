package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	csrfTokenKey    = "csrf_token"
	csrfFormField   = "csrf_token"
	csrfHeaderField = "X-CSRF-Token"
)

// CSRFMiddleware binds a token to the session and requires it on
// state-changing requests, from the form field or the X-CSRF-Token header.
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		token, _ := session.Get(csrfTokenKey).(string)
		if token == "" {
			var err error
			if token, err = generateCSRFToken(); err != nil {
				zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("CSRF token generation failed")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			session.Set(csrfTokenKey, token)
			if err := session.Save(); err != nil {
				zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Failed to save CSRF token")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
		}

		c.Set(csrfTokenKey, token)

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			submitted := c.PostForm(csrfFormField)
			if submitted == "" {
				submitted = c.GetHeader(csrfHeaderField)
			}
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":             "invalid_request",
					"error_description": "CSRF token validation failed",
				})
				return
			}
		}

		c.Next()
	}
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GetCSRFToken returns the token to embed in forms.
func GetCSRFToken(c *gin.Context) string {
	return c.GetString(csrfTokenKey)
}
