package webclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-authgate/idgate/internal/middleware"
	"github.com/go-authgate/idgate/internal/templates"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Session keys.
const (
	keyState        = "oidc_state"
	keyNonce        = "oidc_nonce"
	keyVerifier     = "oidc_verifier"
	keySubject      = "subject"
	keyClaims       = "claims"
	keyIDToken      = "id_token"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiry       = "expiry"
	keyScope        = "scope"
)

const (
	apiDataPath = "/api/data"
	maxAPIBody  = 64 << 10
)

// Home shows the claims of the verified ID token.
func (a *App) Home(c *gin.Context) {
	session := sessions.Default(c)
	props := templates.HomePageProps{
		BaseProps: templates.BaseProps{Title: "Web client", CSRFToken: middleware.GetCSRFToken(c)},
	}
	if subject, _ := session.Get(keySubject).(string); subject != "" {
		props.SignedIn = true
		props.Subject = subject
		props.Scope, _ = session.Get(keyScope).(string)
		props.Claims = claimRows(session.Get(keyClaims))
	}
	templates.Render(c, http.StatusOK, templates.PageHome, props)
}

// Login starts the authorization code flow.
func (a *App) Login(c *gin.Context) {
	state, err := randomValue()
	if err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}
	nonce, err := randomValue()
	if err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}
	verifier := oauth2.GenerateVerifier()

	session := sessions.Default(c)
	session.Set(keyState, state)
	session.Set(keyNonce, nonce)
	session.Set(keyVerifier, verifier)
	if err := session.Save(); err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}

	c.Redirect(http.StatusFound, a.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	))
}

// Callback completes the flow: state check, code exchange with the PKCE
// verifier, ID token verification, nonce check and userinfo claims.
func (a *App) Callback(c *gin.Context) {
	session := sessions.Default(c)
	state, _ := session.Get(keyState).(string)
	nonce, _ := session.Get(keyNonce).(string)
	verifier, _ := session.Get(keyVerifier).(string)
	session.Delete(keyState)
	session.Delete(keyNonce)
	session.Delete(keyVerifier)
	_ = session.Save()

	if errCode := c.Query("error"); errCode != "" {
		templates.RenderError(c, http.StatusBadRequest, errCode, c.Query("error_description"))
		return
	}
	got := c.Query("state")
	if state == "" || subtle.ConstantTimeCompare([]byte(got), []byte(state)) != 1 {
		templates.RenderError(c, http.StatusBadRequest, "invalid_request", "State mismatch")
		return
	}
	code := c.Query("code")
	if code == "" {
		templates.RenderError(c, http.StatusBadRequest, "invalid_request", "Missing authorization code")
		return
	}

	ctx := a.context(c.Request.Context())
	tok, err := a.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		a.fail(c, http.StatusBadGateway, "token_exchange_failed", err)
		return
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		templates.RenderError(c, http.StatusBadGateway, "invalid_token", "Token response has no id_token")
		return
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		a.fail(c, http.StatusBadGateway, "invalid_token", err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		templates.RenderError(c, http.StatusBadRequest, "invalid_token", "Nonce mismatch")
		return
	}
	if idToken.AccessTokenHash != "" {
		if err := idToken.VerifyAccessToken(tok.AccessToken); err != nil {
			a.fail(c, http.StatusBadGateway, "invalid_token", err)
			return
		}
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		a.fail(c, http.StatusBadGateway, "invalid_token", err)
		return
	}
	if err := a.mergeUserInfo(ctx, tok, idToken.Subject, claims); err != nil {
		a.fail(c, http.StatusBadGateway, "userinfo_failed", err)
		return
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}

	session.Set(keySubject, idToken.Subject)
	session.Set(keyClaims, string(claimsJSON))
	session.Set(keyIDToken, rawIDToken)
	scope, _ := tok.Extra("scope").(string)
	session.Set(keyScope, scope)
	storeToken(session, tok)
	if err := session.Save(); err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}

	zerolog.Ctx(c.Request.Context()).Info().
		Str("sub", idToken.Subject).
		Str("scope", scope).
		Msg("User signed in")
	c.Redirect(http.StatusFound, "/")
}

// mergeUserInfo adds the userinfo endpoint's claims to claims without
// overriding the ID token's. The userinfo sub must match the ID token's
// (OIDC Core §5.3.2).
func (a *App) mergeUserInfo(ctx context.Context, tok *oauth2.Token, subject string, claims map[string]any) error {
	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return err
	}
	if info.Subject != subject {
		return fmt.Errorf("userinfo subject %q does not match ID token subject %q", info.Subject, subject)
	}
	var extra map[string]any
	if err := info.Claims(&extra); err != nil {
		return fmt.Errorf("failed to decode userinfo claims: %w", err)
	}
	for k, v := range extra {
		if _, ok := claims[k]; !ok {
			claims[k] = v
		}
	}
	return nil
}

// CallAPI calls the resource API with the stored access token. An expired
// token is renewed with the refresh token first.
func (a *App) CallAPI(c *gin.Context) {
	session := sessions.Default(c)
	tok, ok := loadToken(session)
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	ctx := a.context(c.Request.Context())
	current, err := a.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		a.fail(c, http.StatusBadGateway, "token_refresh_failed", err)
		return
	}
	if current.AccessToken != tok.AccessToken {
		storeToken(session, current)
		if err := session.Save(); err != nil {
			a.fail(c, http.StatusInternalServerError, "server_error", err)
			return
		}
		zerolog.Ctx(c.Request.Context()).Debug().Msg("Access token refreshed")
	}

	endpoint := a.opts.ResourceURL + apiDataPath
	status, body, err := a.get(c, oauth2.NewClient(ctx, oauth2.StaticTokenSource(current)), endpoint)
	if err != nil {
		a.fail(c, http.StatusBadGateway, "api_call_failed", err)
		return
	}
	templates.Render(c, http.StatusOK, templates.PageAPI, templates.APIPageProps{
		BaseProps: templates.BaseProps{Title: "API response"},
		Endpoint:  endpoint,
		Status:    status,
		Body:      body,
	})
}

// Logout clears the local session and ends the session at the issuer.
func (a *App) Logout(c *gin.Context) {
	session := sessions.Default(c)
	idToken, _ := session.Get(keyIDToken).(string)
	session.Clear()
	if err := session.Save(); err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}

	if a.endSessionURL == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	u, err := url.Parse(a.endSessionURL)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, "server_error", err)
		return
	}
	q := u.Query()
	q.Set("client_id", a.opts.ClientID)
	q.Set("post_logout_redirect_uri", a.opts.PostLogoutRedirectURL)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

func (a *App) get(c *gin.Context, client *http.Client, endpoint string) (int, string, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return 0, "", err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	return resp.StatusCode, string(data), nil
}

func (a *App) fail(c *gin.Context, status int, code string, err error) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("error_code", code).Msg("Web client request failed")
	templates.RenderError(c, status, code, http.StatusText(status))
}

func storeToken(session sessions.Session, tok *oauth2.Token) {
	session.Set(keyAccessToken, tok.AccessToken)
	if tok.RefreshToken != "" {
		session.Set(keyRefreshToken, tok.RefreshToken)
	}
	session.Set(keyExpiry, tok.Expiry.Unix())
}

func loadToken(session sessions.Session) (*oauth2.Token, bool) {
	access, _ := session.Get(keyAccessToken).(string)
	if access == "" {
		return nil, false
	}
	refresh, _ := session.Get(keyRefreshToken).(string)
	expiry, _ := session.Get(keyExpiry).(int64)
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       time.Unix(expiry, 0),
	}, true
}

// claimRows renders the stored claims sorted by name.
func claimRows(stored any) []templates.Claim {
	raw, _ := stored.(string)
	var claims map[string]any
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		return nil
	}
	rows := make([]templates.Claim, 0, len(claims))
	for name, value := range claims {
		rows = append(rows, templates.Claim{Name: name, Value: claimValue(value)})
	}
	slices.SortFunc(rows, func(a, b templates.Claim) int {
		return strings.Compare(a.Name, b.Name)
	})
	return rows
}

func claimValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}

func randomValue() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
