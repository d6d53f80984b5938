// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/oidcrp/config"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID      = "test-client-id"
	testClientSecret  = "a-test-client-secret-that-is-long-enough-for-every-hmac-alg-0123"
	testBaseURL       = "https://example.com"
	testEncryptionKey = "0123456789abcdef0123456789abcdef-test"
	testSubject       = "alice@example.com"
)

func testStartProvider(t *testing.T) *oidc.TestProvider {
	t.Helper()
	tp := oidc.StartTestProvider(t)
	tp.SetClientCreds(testClientID, testClientSecret)
	tp.SetAllowedRedirectURIs([]string{testBaseURL + "/callback"})
	return tp
}

func testOptions(tp *oidc.TestProvider) config.Options {
	return config.Options{
		IssuerURL:         tp.Addr(),
		BaseURL:           testBaseURL,
		ClientID:          testClientID,
		ClientSecret:      testClientSecret,
		IDTokenSigningAlg: string(oidc.ES256),
		ProviderCA:        tp.CACert(),
		Session:           config.SessionEnabled(config.SessionOptions{EncryptionKey: testEncryptionKey}),
	}
}

// testApp is a chi application protected by Auth, driven by a browser that
// replays the cookies of previous responses.
type testApp struct {
	t       *testing.T
	tp      *oidc.TestProvider
	cfg     *config.Config
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestApp(t *testing.T, tp *oidc.TestProvider, opts config.Options, routes func(r chi.Router), opt ...Option) *testApp {
	t.Helper()
	require := require.New(t)
	cfg, err := config.New(opts)
	require.NoError(err)
	cache, err := oidc.NewClientCache(oidc.DefaultClientCacheSize)
	require.NoError(err)
	mw, err := Auth(cfg, append([]Option{WithClientCache(cache)}, opt...)...)
	require.NoError(err)

	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("home"))
	})
	r.Get("/profile", func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		if !ok || !ac.IsAuthenticated() {
			http.Error(w, "no auth context", http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ac.Claims())
	})
	if routes != nil {
		routes(r)
	}
	return &testApp{t: t, tp: tp, cfg: cfg, handler: r, cookies: map[string]*http.Cookie{}}
}

func (a *testApp) do(r *http.Request) *http.Response {
	a.t.Helper()
	for _, c := range a.cookies {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, r)
	resp := rec.Result()
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			delete(a.cookies, c.Name)
			continue
		}
		a.cookies[c.Name] = c
	}
	return resp
}

// get requests path the way a browser navigation does.
func (a *testApp) get(path string) *http.Response {
	a.t.Helper()
	r := httptest.NewRequest(http.MethodGet, testBaseURL+path, nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return a.do(r)
}

func (a *testApp) getJSON(path string) *http.Response {
	a.t.Helper()
	r := httptest.NewRequest(http.MethodGet, testBaseURL+path, nil)
	r.Header.Set("Accept", "application/json")
	return a.do(r)
}

// snapshot returns a copy of the current cookies.
func (a *testApp) snapshot() map[string]*http.Cookie {
	cookies := make(map[string]*http.Cookie, len(a.cookies))
	for k, v := range a.cookies {
		cookies[k] = v
	}
	return cookies
}

// authorize sends the browser to the provider's authorization URL in resp's
// Location and returns the request delivering the provider's response to the
// callback, either a form_post or a redirect.
func (a *testApp) authorize(resp *http.Response) *http.Request {
	a.t.Helper()
	require := require.New(a.t)
	require.Equal(http.StatusFound, resp.StatusCode)
	authURL := resp.Header.Get("Location")
	require.True(strings.HasPrefix(authURL, a.tp.Addr()+"/authorize"), "unexpected location %q", authURL)

	pr, err := a.tp.HTTPClient().Get(authURL)
	require.NoError(err)
	defer pr.Body.Close()
	if pr.StatusCode == http.StatusOK {
		action, values := oidc.TestParseFormPost(a.t, pr.Body)
		r := httptest.NewRequest(http.MethodPost, action, strings.NewReader(values.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r
	}
	require.Equal(http.StatusFound, pr.StatusCode)
	loc, err := url.Parse(pr.Header.Get("Location"))
	require.NoError(err)
	if loc.Fragment != "" {
		loc.RawQuery, loc.Fragment = loc.Fragment, ""
	}
	return httptest.NewRequest(http.MethodGet, loc.String(), nil)
}

// login runs a complete login started by a navigation to path and returns
// the callback's response.
func (a *testApp) login(path string) *http.Response {
	a.t.Helper()
	return a.do(a.authorize(a.get(path)))
}

func testLastAuthRequest(t *testing.T, tp *oidc.TestProvider) url.Values {
	t.Helper()
	reqs := tp.AuthRequests()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func testErrorBody(t *testing.T, resp *http.Response) (code, description string) {
	t.Helper()
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error, body.ErrorDescription
}

func testClaimsBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claims map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claims))
	return claims
}

func TestAuth(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		mw, err := Auth(nil)
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
		assert.Nil(mw)
	})
	t.Run("unreachable-redis", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		opts := testOptions(testStartProvider(t))
		opts.Session = config.SessionEnabled(config.SessionOptions{
			EncryptionKey: testEncryptionKey,
			Store:         config.RedisSessionStore,
			RedisURL:      "redis://" + addr,
		})
		cfg, err := config.New(opts)
		require.NoError(err)
		_, err = Auth(cfg)
		require.Error(err)
		assert.ErrorIs(err, session.ErrBackendFailed)
	})
}

func TestAuth_codeFlow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		store config.SessionStore
	}{
		{name: "cookie", store: config.CookieSessionStore},
		{name: "memory", store: config.MemorySessionStore},
		{name: "redis", store: config.RedisSessionStore},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tp := testStartProvider(t)
			opts := testOptions(tp)
			sessOpts := config.SessionOptions{EncryptionKey: testEncryptionKey, Store: tt.store}
			if tt.store == config.RedisSessionStore {
				sessOpts.RedisURL = "redis://" + miniredis.RunT(t).Addr()
			}
			opts.Session = config.SessionEnabled(sessOpts)
			app := newTestApp(t, tp, opts, nil)

			resp := app.get("/profile?tab=1")
			require.Equal(http.StatusFound, resp.StatusCode)
			assert.Equal("no-store", resp.Header.Get("Cache-Control"))
			cb := app.authorize(resp)
			authReq := testLastAuthRequest(t, tp)
			assert.Equal("code", authReq.Get("response_type"))
			assert.Equal("openid profile email", authReq.Get("scope"))
			assert.Equal(testBaseURL+"/callback", authReq.Get("redirect_uri"))
			assert.Equal("S256", authReq.Get("code_challenge_method"))
			assert.NotEmpty(authReq.Get("code_challenge"))
			assert.NotEmpty(authReq.Get("state"))
			assert.NotEmpty(authReq.Get("nonce"))
			assert.Empty(authReq.Get("prompt"))

			resp = app.do(cb)
			require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
			assert.Equal("/profile?tab=1", resp.Header.Get("Location"))

			tokenReqs := tp.TokenRequests()
			require.Len(tokenReqs, 1)
			assert.Equal("authorization_code", tokenReqs[0].Get("grant_type"))
			assert.NotEmpty(tokenReqs[0].Get("code_verifier"))

			claims := testClaimsBody(t, app.get("/profile"))
			assert.Equal(testSubject, claims["sub"])
			for _, c := range config.DefaultExcludedClaims {
				assert.NotContains(claims, c)
			}
		})
	}
}

func TestAuth_idTokenFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	opts := testOptions(tp)
	opts.AuthorizationParams = map[string]string{"response_type": "id_token"}
	app := newTestApp(t, tp, opts, nil)

	cb := app.authorize(app.get("/profile"))
	authReq := testLastAuthRequest(t, tp)
	assert.Equal("id_token", authReq.Get("response_type"))
	assert.Equal("form_post", authReq.Get("response_mode"))
	assert.Empty(authReq.Get("code_challenge"))
	assert.Empty(authReq.Get("code_challenge_method"))

	assert.Equal(http.MethodPost, cb.Method)
	resp := app.do(cb)
	require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal("/profile", resp.Header.Get("Location"))
	assert.Empty(tp.TokenRequests())

	claims := testClaimsBody(t, app.get("/profile"))
	assert.Equal(testSubject, claims["sub"])
}

func TestAuth_hmacIDToken(t *testing.T) {
	t.Parallel()
	for _, alg := range []oidc.Alg{oidc.HS256, oidc.HS384, oidc.HS512} {
		alg := alg
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tp := testStartProvider(t)
			tp.SetIDTokenSigningAlg(alg)
			opts := testOptions(tp)
			opts.IDTokenSigningAlg = string(alg)
			app := newTestApp(t, tp, opts, nil)

			resp := app.login("/profile")
			require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
			require.Len(tp.TokenRequests(), 1)
			claims := testClaimsBody(t, app.getJSON("/profile"))
			assert.Equal(testSubject, claims["sub"])
		})
	}
}

func TestAuth_authRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		authRequired bool
		wantStatus   int
	}{
		{name: "required", authRequired: true, wantStatus: http.StatusFound},
		{name: "optional", authRequired: false, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			tp := testStartProvider(t)
			opts := testOptions(tp)
			opts.AuthRequired = config.Bool(tt.authRequired)
			app := newTestApp(t, tp, opts, nil)
			resp := app.getJSON("/")
			assert.Equal(tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAuth_discoveryFailure(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	tp := testStartProvider(t)
	app := newTestApp(t, tp, testOptions(tp), nil)
	tp.Stop()

	resp := app.get("/")
	assert.Equal(http.StatusInternalServerError, resp.StatusCode)
	code, desc := testErrorBody(t, resp)
	assert.Equal(CodeServerError, code)
	assert.Equal("Unable to reach the identity provider", desc)
}

func TestAuth_sessionDisabled(t *testing.T) {
	t.Parallel()
	t.Run("no-session-middleware", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp := testStartProvider(t)
		opts := testOptions(tp)
		opts.Session = config.SessionDisabled()
		app := newTestApp(t, tp, opts, nil)

		resp := app.get("/")
		assert.Equal(http.StatusInternalServerError, resp.StatusCode)
		code, desc := testErrorBody(t, resp)
		assert.Equal(CodeServerError, code)
		assert.Equal("Session middleware not configured properly", desc)
	})
	t.Run("host-session", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		opts := testOptions(tp)
		opts.Session = config.SessionDisabled()
		app := newTestApp(t, tp, opts, nil)
		backend, err := session.NewMemoryBackend(10)
		require.NoError(err)
		store, err := session.NewServerStore(config.SessionOptions{
			EncryptionKey: testEncryptionKey,
			ExpireAfter:   config.DefaultSessionExpiry,
			CookieName:    "hostSession",
		}, session.WithBackend(backend))
		require.NoError(err)
		app.handler = session.Middleware(store)(app.handler)

		resp := app.login("/profile")
		require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
		assert.Contains(app.cookies, "hostSession")
		claims := testClaimsBody(t, app.get("/profile"))
		assert.Equal(testSubject, claims["sub"])
	})
}

func TestAuth_withSessionStore(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	backend, err := session.NewMemoryBackend(10)
	require.NoError(err)
	store, err := session.NewServerStore(config.SessionOptions{
		EncryptionKey: testEncryptionKey,
		ExpireAfter:   config.DefaultSessionExpiry,
		CookieName:    "sid",
	}, session.WithBackend(backend))
	require.NoError(err)
	app := newTestApp(t, tp, testOptions(tp), nil, WithSessionStore(store))

	resp := app.login("/profile")
	require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Contains(app.cookies, "sid")
	assert.Equal(1, backend.Len())
}

func TestAuth_customRoutes(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	opts := testOptions(tp)
	opts.CustomRoutes = []string{"login"}
	app := newTestApp(t, tp, opts, func(r chi.Router) {
		r.Get("/login", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Custom-Login", "true")
			Login(LoginParams{RedirectAfterLogin: "/welcome"}).ServeHTTP(w, r)
		})
	})

	resp := app.get("/login")
	assert.Equal("true", resp.Header.Get("X-Custom-Login"))
	resp = app.do(app.authorize(resp))
	require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal("/welcome", resp.Header.Get("Location"))
}

func TestAuth_routes(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	opts := testOptions(tp)
	opts.Routes = config.Routes{Login: "/auth/login", Logout: "/auth/logout", Callback: "/auth/callback"}
	tp.SetAllowedRedirectURIs([]string{testBaseURL + "/auth/callback"})
	app := newTestApp(t, tp, opts, nil)

	cb := app.authorize(app.get("/auth/login"))
	assert.Equal(testBaseURL+"/auth/callback", testLastAuthRequest(t, tp).Get("redirect_uri"))
	resp := app.do(cb)
	require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal("/", resp.Header.Get("Location"))

	resp = app.get("/auth/logout")
	require.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("/", resp.Header.Get("Location"))
}

func TestAuth_metrics(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	reg := prometheus.NewRegistry()
	tp := testStartProvider(t)
	app := newTestApp(t, tp, testOptions(tp), nil, WithRegisterer(reg))

	resp := app.login("/profile")
	require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	resp = app.do(httptest.NewRequest(http.MethodGet, testBaseURL+"/callback?code=x&state=y", nil))
	require.Equal(http.StatusUnauthorized, resp.StatusCode)
	app.get("/logout")

	// a second registration shares the registered counters
	m, err := newMetrics(reg)
	require.NoError(err)
	assert.Equal(1.0, testutil.ToFloat64(m.logins.WithLabelValues("interactive")))
	assert.Equal(1.0, testutil.ToFloat64(m.callbacks.WithLabelValues("success")))
	assert.Equal(1.0, testutil.ToFloat64(m.callbacks.WithLabelValues("invalid_state")))
	assert.Equal(1.0, testutil.ToFloat64(m.logouts.WithLabelValues("false")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(err)
	assert.Equal(4, n)
}

func TestAuth_debugLog(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	var msgs []string
	opts := testOptions(tp)
	opts.Debug = func(msg string, args ...interface{}) {
		msgs = append(msgs, msg)
	}
	app := newTestApp(t, tp, opts, nil)
	resp := app.login("/")
	require.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Contains(msgs, "starting login")
	assert.Contains(msgs, "login succeeded")
}

func TestAuth_providerOutage(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	app := newTestApp(t, tp, testOptions(tp), nil)
	resp := app.get("/profile")
	cb := app.authorize(resp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp = app.do(cb.WithContext(ctx))
	require.Equal(http.StatusInternalServerError, resp.StatusCode)
	code, _ := testErrorBody(t, resp)
	assert.Equal(CodeServerError, code)
}
