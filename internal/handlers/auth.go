package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/middleware"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/templates"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// LoginPath is where RequireLogin sends anonymous browsers.
	LoginPath = "/login"
	// LogoutPath ends the login session.
	LogoutPath = "/logout"
)

// isRedirectSafe validates that a redirect URL is safe to use.
// It only allows:
// 1. Relative paths starting with "/" but not "//"
// 2. Absolute http(s) URLs that match the baseURL host
func isRedirectSafe(redirectURL, baseURL string) bool {
	if redirectURL == "" {
		return true
	}

	// Header injection
	if strings.ContainsAny(redirectURL, "\r\n") {
		return false
	}

	if strings.HasPrefix(redirectURL, "/") {
		// Protocol-relative "//evil.com" and "/\evil.com"
		return !strings.HasPrefix(redirectURL, "//") && !strings.Contains(redirectURL, "\\")
	}

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host != "" {
		base, err := url.Parse(baseURL)
		if err != nil || parsed.Host != base.Host {
			return false
		}
	}
	return true
}

// UserStore resolves end-users by login name.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// AuthHandler serves the login form that establishes the session the
// authorize endpoint runs under.
type AuthHandler struct {
	users   UserStore
	baseURL string
	now     func() time.Time
}

func NewAuthHandler(users UserStore, baseURL string) *AuthHandler {
	return &AuthHandler{users: users, baseURL: baseURL, now: time.Now}
}

// LoginPage renders the login form. A logged-in user continues to return_to.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	returnTo := c.Query("return_to")
	if !isRedirectSafe(returnTo, h.baseURL) {
		returnTo = ""
	}

	if _, _, ok := middleware.LoginState(sessions.Default(c)); ok && returnTo != "" {
		c.Redirect(http.StatusFound, returnTo)
		return
	}

	templates.Render(c, http.StatusOK, templates.PageLogin, templates.LoginPageProps{
		BaseProps: templates.BaseProps{Title: "Sign in", CSRFToken: middleware.GetCSRFToken(c)},
		ReturnTo:  returnTo,
	})
}

// Login checks the submitted credentials and starts the login session.
func (h *AuthHandler) Login(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")
	returnTo := c.PostForm("return_to")
	if !isRedirectSafe(returnTo, h.baseURL) {
		returnTo = ""
	}
	logger := zerolog.Ctx(c.Request.Context())

	user, err := h.authenticate(c.Request.Context(), username, password)
	if err != nil {
		status, message := http.StatusUnauthorized, "Invalid username or password"
		if !errors.Is(err, errBadCredentials) {
			logger.Error().Err(err).Msg("User lookup failed")
			status, message = http.StatusInternalServerError, "Sign in is temporarily unavailable"
		} else {
			logger.Info().Str("username", username).Str("client_ip", c.ClientIP()).Msg("Login failed")
		}
		templates.Render(c, status, templates.PageLogin, templates.LoginPageProps{
			BaseProps: templates.BaseProps{Title: "Sign in", CSRFToken: middleware.GetCSRFToken(c)},
			Error:     message,
			Username:  username,
			ReturnTo:  returnTo,
		})
		return
	}

	if err := middleware.StartLogin(sessions.Default(c), user.ID, h.now()); err != nil {
		logger.Error().Err(err).Msg("Failed to save login session")
		templates.RenderError(c, http.StatusInternalServerError, "server_error", "Failed to create session")
		return
	}
	logger.Info().Str("subject", user.ID).Msg("User logged in")

	if returnTo == "" {
		returnTo = "/"
	}
	c.Redirect(http.StatusFound, returnTo)
}

// Logout clears the login session.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := middleware.EndLogin(sessions.Default(c)); err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Failed to clear login session")
		templates.RenderError(c, http.StatusInternalServerError, "server_error", "Failed to save session")
		return
	}
	c.Redirect(http.StatusFound, LoginPath)
}

var errBadCredentials = errors.New("bad credentials")

func (h *AuthHandler) authenticate(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, errBadCredentials
	}
	user, err := h.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, err
	}
	if !user.IsActive || !user.CheckPassword(password) {
		return nil, errBadCredentials
	}
	return user, nil
}
