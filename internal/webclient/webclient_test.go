package webclient_test

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-authgate/idgate/internal/bootstrap"
	"github.com/go-authgate/idgate/internal/config"
	"github.com/go-authgate/idgate/internal/discovery"
	"github.com/go-authgate/idgate/internal/provisioning"
	"github.com/go-authgate/idgate/internal/webclient"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	csrfPattern     = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)
	returnToPattern = regexp.MustCompile(`name="return_to" value="([^"]+)"`)
)

const manifestTemplate = `
resources:
  - identifier: api
    scopes:
      - name: api.read
      - name: api.write
identity_scopes:
  - name: openid
  - name: profile
  - name: email
  - name: offline_access
clients:
  - client_id: web
    secret: secret
    grant_types: [authorization_code, refresh_token]
    scopes: [openid, profile, email, api.read, offline_access]
    redirect_uris: ["%[1]s/signin-oidc"]
    post_logout_redirect_uris: ["%[1]s/"]
users:
  - username: alice
    password: alice
    name: Alice Smith
    email: alice@example.com
    email_verified: true
`

type testEnv struct {
	issuer        *httptest.Server
	web           *httptest.Server
	client        *http.Client
	userInfoCalls *atomic.Int32
}

// newTestEnv runs the identity server, the resource API and the web client.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuerSrv := httptest.NewUnstartedServer(nil)
	webSrv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + issuerSrv.Listener.Addr().String()
	webURL := "http://" + webSrv.Listener.Addr().String()

	manifest := filepath.Join(t.TempDir(), "clients.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(fmt.Sprintf(manifestTemplate, webURL)), 0o600))

	cfg := &config.Config{
		BaseURL:                baseURL,
		DatabaseDriver:         "sqlite",
		DatabaseDSN:            ":memory:",
		SessionStore:           config.SessionStoreDatabase,
		SessionSecret:          "test-session-secret",
		SessionMaxAge:          3600,
		AccessTokenExpiration:  5 * time.Second, // always inside the oauth2 expiry window
		IDTokenExpiration:      5 * time.Minute,
		AuthCodeExpiration:     time.Minute,
		RefreshTokenExpiration: time.Hour,
		EnableRefreshTokens:    true,
		SigningAlgorithm:       config.SigningAlgorithmRS256,
		AutoProvision:          true,
		ProvisioningFile:       manifest,
		RateLimitStore:         config.RateLimitStoreMemory,
		ResourceIdentifier:     "api",
		TrustedIssuer:          baseURL,
		ClockSkew:              time.Minute,
	}

	app, err := bootstrap.New(context.Background(), cfg)
	require.NoError(t, err)
	userInfoCalls := &atomic.Int32{}
	issuerSrv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == discovery.PathUserInfo {
			userInfoCalls.Add(1)
		}
		app.Router.ServeHTTP(w, r)
	})
	issuerSrv.Start()

	apiSrv := httptest.NewServer(bootstrap.NewResourceServer(cfg, issuerSrv.Client()).Router)

	web, err := webclient.New(context.Background(), webclient.Options{
		Issuer:        baseURL,
		ClientID:      "web",
		ClientSecret:  "secret",
		RedirectURL:   webURL + "/signin-oidc",
		Scopes:        []string{"openid", "profile", "email", "api.read", "offline_access"},
		ResourceURL:   apiSrv.URL,
		SessionSecret: "test-webclient-secret",
		HTTPClient:    issuerSrv.Client(),
	})
	require.NoError(t, err)
	webSrv.Config.Handler = web.Router
	webSrv.Start()

	t.Cleanup(func() {
		webSrv.Close()
		apiSrv.Close()
		issuerSrv.Close()
		_ = app.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		issuer:        issuerSrv,
		web:           webSrv,
		client:        &http.Client{Jar: jar, Timeout: 10 * time.Second},
		userInfoCalls: userInfoCalls,
	}
}

func (e *testEnv) get(t *testing.T, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(rawURL)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (e *testEnv) post(t *testing.T, rawURL string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.PostForm(rawURL, form)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func submatch(t *testing.T, re *regexp.Regexp, body string) string {
	t.Helper()
	m := re.FindStringSubmatch(body)
	require.Len(t, m, 2, body)
	return html.UnescapeString(m[1])
}

// signIn follows /login to the issuer's login form, submits alice's
// credentials and returns the page the browser lands on.
func (e *testEnv) signIn(t *testing.T) (*http.Response, string) {
	t.Helper()
	resp, body := e.get(t, e.web.URL+"/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Request.URL.String(), e.issuer.URL+"/login"), resp.Request.URL.String())

	return e.post(t, e.issuer.URL+"/login", url.Values{
		"username":   {"alice"},
		"password":   {"alice"},
		"return_to":  {submatch(t, returnToPattern, body)},
		"csrf_token": {submatch(t, csrfPattern, body)},
	})
}

func TestSignInCallAPIAndSignOut(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.signIn(t)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, env.web.URL+"/", resp.Request.URL.String())
	assert.Contains(t, body, "Signed in as <strong>"+provisioning.SubjectFor("alice")+"</strong>")
	assert.Contains(t, body, "alice@example.com")
	assert.Contains(t, body, "Alice Smith")
	assert.Contains(t, body, "offline_access")
	assert.Equal(t, int32(1), env.userInfoCalls.Load(), "sign-in merges the userinfo claims")

	// Each call renews the short-lived access token with the rotated refresh token
	for range 2 {
		resp, body = env.get(t, env.web.URL+"/api")
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Contains(t, body, "returned 200")
		assert.Contains(t, body, provisioning.SubjectFor("alice"))
	}

	resp, body = env.get(t, env.web.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = env.post(t, env.web.URL+"/logout", url.Values{
		"csrf_token": {submatch(t, csrfPattern, body)},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, env.web.URL+"/", resp.Request.URL.String(), "issuer redirects to the registered post-logout URI")
	assert.Contains(t, body, "You are not signed in.")

	// The issuer session ended too, so signing in asks for credentials again
	resp, _ = env.get(t, env.web.URL+"/login")
	assert.True(t, strings.HasPrefix(resp.Request.URL.String(), env.issuer.URL+"/login"))
}

func TestCallAPI_RequiresSignIn(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, env.web.URL+"/api")
	assert.True(t, strings.HasPrefix(resp.Request.URL.String(), env.issuer.URL+"/login"))
}

func TestCallback_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no login in progress", "?code=abc&state=xyz", "State mismatch"},
		{"error from issuer", "?error=access_denied&error_description=denied", "access_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, env.web.URL+"/signin-oidc"+tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestCallback_StateMismatch(t *testing.T) {
	env := newTestEnv(t)

	// Start a login so the session holds a state, then answer with another one
	env.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, _ := env.get(t, env.web.URL+"/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authorize, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	q := authorize.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("nonce"))
	assert.Equal(t, "web", q.Get("client_id"))

	resp, body := env.get(t, env.web.URL+"/signin-oidc?code=abc&state=forged")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "State mismatch")
}

func TestNew_Validation(t *testing.T) {
	_, err := webclient.New(context.Background(), webclient.Options{Issuer: "http://localhost:1"})
	assert.Error(t, err)

	_, err = webclient.New(context.Background(), webclient.Options{
		Issuer:       "http://localhost:1",
		ClientID:     "web",
		ClientSecret: "secret",
		RedirectURL:  "not a url",
	})
	assert.Error(t, err)
}
