package grant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/go-authgate/idgate/internal/keys"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/oauth"
	"github.com/go-authgate/idgate/internal/registry"
	"github.com/go-authgate/idgate/internal/store"
	"github.com/go-authgate/idgate/internal/token"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "http://localhost:5001"
	webRedirect  = "http://localhost:5002/signin-oidc"
	spaRedirect  = "http://localhost:5004/authentication/login-callback"
	webSecret    = "web-secret"
	cc1Secret    = "cc1-secret"
	aliceSubject = "alice-id"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	handler *Handler
	store   *store.Store
	keys    *keys.Manager
	clock   *clock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.UpsertResource(ctx, &models.Resource{
		Identifier: "api", DisplayName: "API", Scopes: models.StringArray{"api.read", "api.write"},
	}))
	for _, sc := range []models.Scope{
		{Name: "api.read", DisplayName: "Read", Resource: "api"},
		{Name: "api.write", DisplayName: "Write", Resource: "api"},
		{Name: "openid", DisplayName: "OpenID"},
		{Name: "profile", DisplayName: "Profile"},
		{Name: "email", DisplayName: "Email"},
		{Name: "offline_access", DisplayName: "Offline access"},
	} {
		require.NoError(t, s.UpsertScope(ctx, &sc))
	}

	cc1 := &models.Client{
		ClientID:   "cc1",
		Name:       "Console",
		GrantTypes: models.StringArray{oauth.GrantTypeClientCredentials},
		Scopes:     models.StringArray{"api.read", "api.write"},
		IsActive:   true,
	}
	require.NoError(t, cc1.SetSecret(cc1Secret))
	require.NoError(t, s.UpsertClient(ctx, cc1))

	web := &models.Client{
		ClientID:     "web",
		Name:         "Web",
		GrantTypes:   models.StringArray{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		Scopes:       models.StringArray{"openid", "profile", "email", "offline_access", "api.read"},
		RedirectURIs: models.StringArray{webRedirect},
		IsActive:     true,
	}
	require.NoError(t, web.SetSecret(webSecret))
	require.NoError(t, s.UpsertClient(ctx, web))

	require.NoError(t, s.UpsertClient(ctx, &models.Client{
		ClientID:     "spa",
		Name:         "SPA",
		GrantTypes:   models.StringArray{oauth.GrantTypeAuthorizationCode},
		Scopes:       models.StringArray{"openid", "profile", "api.read"},
		RedirectURIs: models.StringArray{spaRedirect},
		RequirePKCE:  true,
		IsActive:     true,
	}))

	require.NoError(t, s.UpsertUser(ctx, &models.User{
		ID:            aliceSubject,
		Username:      "alice",
		Name:          "Alice Smith",
		Email:         "alice@example.com",
		EmailVerified: true,
		IsActive:      true,
	}))

	c := &clock{now: time.Now().Truncate(time.Second)}
	km, err := keys.NewManager(ctx, keys.Options{Algorithm: keys.AlgES256, Grace: time.Hour, Now: c.Now})
	require.NoError(t, err)
	issuer := token.NewIssuer(testIssuer, km, time.Hour, 5*time.Minute, token.WithClock(c.Now))

	h := NewHandler(registry.New(s, 0), s, issuer, Options{
		EnableRefreshTokens: true,
		Now:                 c.Now,
	})
	return &testEnv{handler: h, store: s, keys: km, clock: c}
}

func (e *testEnv) parse(t *testing.T, raw string) *token.Claims {
	t.Helper()
	claims := &token.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		key, ok := e.keys.Lookup(kid)
		require.True(t, ok)
		return key.Public(), nil
	}, jwt.WithValidMethods([]string{keys.AlgES256}))
	require.NoError(t, err)
	return claims
}

func pkcePair(t *testing.T) (verifier, challenge string) {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	verifier = base64.RawURLEncoding.EncodeToString(b)
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

func (e *testEnv) authorizeWeb(t *testing.T, scope string) *AuthorizeResult {
	t.Helper()
	res, err := e.handler.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web",
		RedirectURI:  webRedirect,
		Scope:        scope,
		State:        "xyz",
		Nonce:        "n-0S6_WzA2Mj",
		Subject:      aliceSubject,
	})
	require.NoError(t, err)
	return res
}

func webRedeem(code string) TokenRequest {
	return TokenRequest{
		GrantType:    oauth.GrantTypeAuthorizationCode,
		ClientID:     "web",
		ClientSecret: webSecret,
		Code:         code,
		RedirectURI:  webRedirect,
	}
}

func TestClientCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.handler.Exchange(context.Background(), TokenRequest{
		GrantType:    oauth.GrantTypeClientCredentials,
		ClientID:     "cc1",
		ClientSecret: cc1Secret,
		Scope:        "api.read",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "api.read", resp.Scope)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Empty(t, resp.RefreshToken)
	assert.Empty(t, resp.IDToken)

	claims := env.parse(t, resp.AccessToken)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, "cc1", claims.Subject)
	assert.Equal(t, "cc1", claims.ClientID)
	assert.Equal(t, jwt.ClaimStrings{"api"}, claims.Audience)
	assert.Equal(t, "api.read", claims.Scope)
}

func TestClientCredentials_DefaultScopes(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.handler.ClientCredentials(context.Background(), TokenRequest{
		ClientID:     "cc1",
		ClientSecret: cc1Secret,
	})
	require.NoError(t, err)
	assert.Equal(t, "api.read api.write", resp.Scope)
}

func TestClientCredentials_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		req     TokenRequest
		wantErr error
	}{
		{
			name:    "wrong secret",
			req:     TokenRequest{ClientID: "cc1", ClientSecret: "nope", Scope: "api.read"},
			wantErr: oauth.ErrInvalidClient,
		},
		{
			name:    "unknown client",
			req:     TokenRequest{ClientID: "ghost", ClientSecret: cc1Secret, Scope: "api.read"},
			wantErr: oauth.ErrInvalidClient,
		},
		{
			name:    "scope outside the allowed set",
			req:     TokenRequest{ClientID: "cc1", ClientSecret: cc1Secret, Scope: "api.read offline_access"},
			wantErr: oauth.ErrInvalidScope,
		},
		{
			name:    "unregistered scope",
			req:     TokenRequest{ClientID: "cc1", ClientSecret: cc1Secret, Scope: "api.delete"},
			wantErr: oauth.ErrInvalidScope,
		},
		{
			name:    "grant not registered for client",
			req:     TokenRequest{ClientID: "web", ClientSecret: webSecret, Scope: "api.read"},
			wantErr: oauth.ErrUnauthorizedGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.handler.ClientCredentials(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, resp)
		})
	}
}

func TestExchange_GrantTypes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.handler.Exchange(ctx, TokenRequest{GrantType: "password"})
	assert.ErrorIs(t, err, oauth.ErrUnsupportedGrantType)

	_, err = env.handler.Exchange(ctx, TokenRequest{})
	assert.ErrorIs(t, err, oauth.ErrInvalidRequest)

	env.handler.opts.EnableRefreshTokens = false
	_, err = env.handler.Exchange(ctx, TokenRequest{GrantType: oauth.GrantTypeRefreshToken, RefreshToken: "x"})
	assert.ErrorIs(t, err, oauth.ErrUnsupportedGrantType)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.authorizeWeb(t, "openid profile email offline_access api.read")
	assert.NotEmpty(t, res.Code)
	assert.Equal(t, "xyz", res.State)
	assert.Equal(t, webRedirect, res.RedirectURI)

	consent, err := env.store.GetConsent(ctx, aliceSubject, "web")
	require.NoError(t, err)
	assert.True(t, consent.Covers([]string{"openid", "api.read"}))

	resp, err := env.handler.Exchange(ctx, webRedeem(res.Code))
	require.NoError(t, err)
	assert.Equal(t, "openid profile email offline_access api.read", resp.Scope)
	assert.NotEmpty(t, resp.RefreshToken)
	require.NotEmpty(t, resp.IDToken)

	access := env.parse(t, resp.AccessToken)
	assert.Equal(t, aliceSubject, access.Subject)
	assert.Equal(t, "web", access.ClientID)
	assert.ElementsMatch(t, []string{"api", testIssuer}, []string(access.Audience))

	id := env.parse(t, resp.IDToken)
	assert.Equal(t, jwt.ClaimStrings{"web"}, id.Audience)
	assert.Equal(t, "n-0S6_WzA2Mj", id.ExtraString("nonce"))
	assert.Equal(t, "alice@example.com", id.ExtraString("email"))
	assert.Equal(t, "alice", id.ExtraString("preferred_username"))
	assert.Equal(t, "Alice Smith", id.ExtraString("name"))
	assert.Equal(t, token.AtHash(resp.AccessToken), id.ExtraString("at_hash"))

	// Replay
	_, err = env.handler.Exchange(ctx, webRedeem(res.Code))
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestAuthorizationCode_ScopeGatesClaims(t *testing.T) {
	env := newTestEnv(t)

	res := env.authorizeWeb(t, "openid api.read")
	resp, err := env.handler.RedeemCode(context.Background(), webRedeem(res.Code))
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken, "offline_access was not requested")

	id := env.parse(t, resp.IDToken)
	assert.NotContains(t, id.Extra, "email")
	assert.NotContains(t, id.Extra, "name")
}

func TestRedeemCode_ConcurrentRedemption(t *testing.T) {
	env := newTestEnv(t)
	res := env.authorizeWeb(t, "openid api.read")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.handler.RedeemCode(context.Background(), webRedeem(res.Code))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, workers-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
	}
}

func TestAuthorize_Errors(t *testing.T) {
	env := newTestEnv(t)
	_, challenge := pkcePair(t)

	base := AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web",
		RedirectURI:  webRedirect,
		Scope:        "openid",
		Subject:      aliceSubject,
	}

	tests := []struct {
		name         string
		mutate       func(r *AuthorizeRequest)
		wantErr      error
		redirectable bool
	}{
		{"unknown client", func(r *AuthorizeRequest) { r.ClientID = "ghost" }, oauth.ErrInvalidClient, false},
		{"trailing slash", func(r *AuthorizeRequest) { r.RedirectURI = webRedirect + "/" }, oauth.ErrRedirectMismatch, false},
		{"case difference", func(r *AuthorizeRequest) { r.RedirectURI = "http://LOCALHOST:5002/signin-oidc" }, oauth.ErrRedirectMismatch, false},
		{"missing redirect", func(r *AuthorizeRequest) { r.RedirectURI = "" }, oauth.ErrRedirectMismatch, false},
		{"token response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }, oauth.ErrUnsupportedResponseType, true},
		{"scope outside allowed set", func(r *AuthorizeRequest) { r.Scope = "openid api.write" }, oauth.ErrInvalidScope, true},
		{"empty scope", func(r *AuthorizeRequest) { r.Scope = "" }, oauth.ErrInvalidScope, true},
		{"plain PKCE", func(r *AuthorizeRequest) {
			r.CodeChallenge = challenge
			r.CodeChallengeMethod = "plain"
		}, oauth.ErrInvalidRequest, true},
		{"oversized nonce", func(r *AuthorizeRequest) { r.Nonce = string(make([]byte, 513)) }, oauth.ErrInvalidRequest, true},
		{"no end-user", func(r *AuthorizeRequest) { r.Subject = "" }, oauth.ErrAccessDenied, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			res, err := env.handler.Authorize(context.Background(), req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.redirectable, IsRedirectable(err))
		})
	}
}

func TestRedeemCode_RedirectMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.authorizeWeb(t, "openid")

	req := webRedeem(res.Code)
	req.RedirectURI = webRedirect + "/"
	_, err := env.handler.RedeemCode(ctx, req)
	assert.ErrorIs(t, err, oauth.ErrRedirectMismatch)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.CodeFor(err))

	// The code was not consumed by the failed attempt
	_, err = env.handler.RedeemCode(ctx, webRedeem(res.Code))
	assert.NoError(t, err)
}

func TestRedeemCode_WrongClient(t *testing.T) {
	env := newTestEnv(t)
	res := env.authorizeWeb(t, "openid")

	req := webRedeem(res.Code)
	req.ClientID = "cc1"
	req.ClientSecret = cc1Secret
	_, err := env.handler.RedeemCode(context.Background(), req)
	assert.ErrorIs(t, err, oauth.ErrInvalidClient)

	req = webRedeem(res.Code)
	req.ClientSecret = "wrong"
	_, err = env.handler.RedeemCode(context.Background(), req)
	assert.ErrorIs(t, err, oauth.ErrInvalidClient)
}

func TestRedeemCode_Expired(t *testing.T) {
	env := newTestEnv(t)
	res := env.authorizeWeb(t, "openid")

	env.clock.Advance(defaultAuthCodeLifetime)
	_, err := env.handler.RedeemCode(context.Background(), webRedeem(res.Code))
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)

	_, err = env.handler.RedeemCode(context.Background(), webRedeem("never-issued"))
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestPKCE(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier, challenge := pkcePair(t)

	spa := AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "spa",
		RedirectURI:  spaRedirect,
		Scope:        "openid api.read",
		Subject:      aliceSubject,
	}

	_, err := env.handler.Authorize(ctx, spa)
	assert.ErrorIs(t, err, oauth.ErrInvalidRequest, "public clients must use PKCE")

	spa.CodeChallenge = challenge
	spa.CodeChallengeMethod = oauth.CodeChallengeMethodS256
	res, err := env.handler.Authorize(ctx, spa)
	require.NoError(t, err)

	redeem := TokenRequest{
		GrantType:   oauth.GrantTypeAuthorizationCode,
		ClientID:    "spa",
		Code:        res.Code,
		RedirectURI: spaRedirect,
	}

	_, err = env.handler.Exchange(ctx, redeem)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant, "missing verifier")

	other, _ := pkcePair(t)
	redeem.CodeVerifier = other
	_, err = env.handler.Exchange(ctx, redeem)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant, "wrong verifier")

	redeem.CodeVerifier = verifier
	resp, err := env.handler.Exchange(ctx, redeem)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
}

func TestVerifyPKCE(t *testing.T) {
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, verifyPKCE(challenge, verifier))
	assert.False(t, verifyPKCE(challenge, verifier+"x"))
	assert.False(t, verifyPKCE(challenge, "short"))
	assert.False(t, verifyPKCE(challenge, "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjX!"))
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.authorizeWeb(t, "openid offline_access api.read")
	first, err := env.handler.RedeemCode(ctx, webRedeem(res.Code))
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	refresh := TokenRequest{
		GrantType:    oauth.GrantTypeRefreshToken,
		ClientID:     "web",
		ClientSecret: webSecret,
		RefreshToken: first.RefreshToken,
		Scope:        "api.read",
	}
	second, err := env.handler.Exchange(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, "api.read", second.Scope, "access token scope narrowed")
	assert.Empty(t, second.IDToken)
	require.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The successor keeps the original grant and links to its parent
	rt, err := env.store.GetRefreshToken(ctx, hashValue(second.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "openid offline_access api.read", rt.Scopes)
	assert.Equal(t, hashValue(first.RefreshToken), rt.ParentHash)

	// Rotated token cannot be reused
	_, err = env.handler.Exchange(ctx, refresh)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)

	// Widening is rejected
	_, err = env.handler.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantTypeRefreshToken,
		ClientID:     "web",
		ClientSecret: webSecret,
		RefreshToken: second.RefreshToken,
		Scope:        "api.read profile",
	})
	assert.ErrorIs(t, err, oauth.ErrInvalidScope)

	// Without a scope parameter the full grant is used again
	third, err := env.handler.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantTypeRefreshToken,
		ClientID:     "web",
		ClientSecret: webSecret,
		RefreshToken: second.RefreshToken,
	})
	require.NoError(t, err)
	assert.Equal(t, "openid offline_access api.read", third.Scope)
	assert.NotEmpty(t, third.IDToken)
}

func TestRefresh_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.authorizeWeb(t, "openid offline_access")
	resp, err := env.handler.RedeemCode(ctx, webRedeem(res.Code))
	require.NoError(t, err)

	env.clock.Advance(defaultRefreshTokenLifetime)
	_, err = env.handler.Refresh(ctx, TokenRequest{
		ClientID:     "web",
		ClientSecret: webSecret,
		RefreshToken: resp.RefreshToken,
	})
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.authorizeWeb(t, "openid offline_access")
	resp, err := env.handler.RedeemCode(ctx, webRedeem(res.Code))
	require.NoError(t, err)

	// Another client cannot revoke it, but is not told so
	err = env.handler.Revoke(ctx, RevokeRequest{Token: resp.RefreshToken, ClientID: "cc1", ClientSecret: cc1Secret})
	require.NoError(t, err)
	rt, err := env.store.GetRefreshToken(ctx, hashValue(resp.RefreshToken))
	require.NoError(t, err)
	assert.Nil(t, rt.RevokedAt)

	err = env.handler.Revoke(ctx, RevokeRequest{Token: resp.RefreshToken, ClientID: "web", ClientSecret: "wrong"})
	assert.ErrorIs(t, err, oauth.ErrInvalidClient)

	require.NoError(t, env.handler.Revoke(ctx, RevokeRequest{
		Token: resp.RefreshToken, TokenTypeHint: "refresh_token", ClientID: "web", ClientSecret: webSecret,
	}))
	require.NoError(t, env.handler.Revoke(ctx, RevokeRequest{
		Token: "unknown", ClientID: "web", ClientSecret: webSecret,
	}))

	_, err = env.handler.Refresh(ctx, TokenRequest{
		ClientID:     "web",
		ClientSecret: webSecret,
		RefreshToken: resp.RefreshToken,
	})
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestProfileClaims(t *testing.T) {
	user := &models.User{Username: "alice", Email: "alice@example.com", EmailVerified: true}

	claims := ProfileClaims(user, []string{"openid"})
	assert.Empty(t, claims)

	claims = ProfileClaims(user, []string{"openid", "email"})
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.Equal(t, true, claims["email_verified"])
	assert.NotContains(t, claims, "preferred_username")

	claims = ProfileClaims(user, []string{"openid", "profile"})
	assert.Equal(t, "alice", claims["preferred_username"])
	assert.NotContains(t, claims, "name", "empty names are omitted")
}
