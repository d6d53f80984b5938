// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"hash"
	"html/template"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/hashicorp/oidcrp/sdk/id"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestProvider is a local OIDC provider that makes writing relying party
// tests easier. It supports the code, id_token and "code id_token" response
// types, PKCE, pushed authorization requests, the refresh_token grant,
// userinfo and RP-initiated logout, and every client authentication method
// of Config.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	signingKey *ecdsa.PrivateKey
	keyID      string
	jwks       *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	clientAssertionKey  crypto.PublicKey
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	customClaims        map[string]interface{}
	expiresIn           int64
	idTokenAlg          Alg
	nowFunc             func() time.Time

	loginRequired    bool
	omitIDToken      bool
	omitRefreshToken bool
	disablePAR       bool
	disableEndSess   bool
	disableUserInfo  bool
	tokenError       *testTokenError

	codes         map[string]testAuthorization
	pushed        map[string]url.Values
	accessTokens  map[string]string
	refreshTokens map[string]string

	authRequests  []url.Values
	parRequests   []url.Values
	tokenRequests []url.Values
}

type testAuthorization struct {
	nonce               string
	codeChallenge       string
	codeChallengeMethod string
	redirectURI         string
	scope               string
}

type testTokenError struct {
	status      int
	code        string
	description string
}

// StartTestProvider creates and starts a disposable TestProvider. It's
// stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	keyID, err := id.New("kid")
	require.NoError(err)

	p := &TestProvider{
		signingKey: key,
		keyID:      keyID,
		jwks: &jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{Key: key.Public(), KeyID: keyID, Algorithm: string(ES256), Use: "sig"}},
		},
		allowedRedirectURIs: []string{"https://example.com/callback"},
		replySubject:        "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"color":       "red",
			"temperature": "76",
			"flavor":      "umami",
		},
		expiresIn:     3600,
		idTokenAlg:    ES256,
		nowFunc:       time.Now,
		codes:         map[string]testAuthorization{},
		pushed:        map[string]url.Values{},
		accessTokens:  map[string]string{},
		refreshTokens: map[string]string{},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() { p.httpServer.Close() }

// Addr returns the current base URL for the test provider's running
// webserver, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http.Client that trusts the test provider and
// doesn't follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := *p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &c
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows. An empty secret registers a public client.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetClientAssertionKey registers the public key used to verify
// private_key_jwt client assertions.
func (p *TestProvider) SetClientAssertionKey(pub crypto.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientAssertionKey = pub
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs
// for the OIDC workflow. If not configured "https://example.com/callback" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetUserInfoReply configures the userinfo response. A "sub" value replaces
// the configured subject.
func (p *TestProvider) SetUserInfoReply(resp map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = resp
}

// SetCustomClaims lets you set claims to return in issued id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetExpiresIn configures the expires_in of token responses. Zero omits it.
func (p *TestProvider) SetExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// SetIDTokenSigningAlg configures how id_tokens are signed. ES256 uses the
// provider's key and the HS* algs use the client secret.
func (p *TestProvider) SetIDTokenSigningAlg(alg Alg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenAlg = alg
}

// SetNowFunc configures the clock used for issued id_tokens.
func (p *TestProvider) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFunc = now
}

// SetLoginRequired makes prompt=none authorization requests fail with
// login_required.
func (p *TestProvider) SetLoginRequired(required bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginRequired = required
}

// OmitIDTokens forces the /token endpoint to not return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens forces the /token endpoint to not return a
// refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// DisablePAR omits the pushed authorization request endpoint from the
// discovery document.
func (p *TestProvider) DisablePAR() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disablePAR = true
}

// DisableEndSession omits the end session endpoint from the discovery
// document.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSess = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetTokenError makes the /token endpoint reply with an OAuth error. An
// empty code clears it.
func (p *TestProvider) SetTokenError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code == "" {
		p.tokenError = nil
		return
	}
	p.tokenError = &testTokenError{status: status, code: code, description: description}
}

// AuthRequests returns the authorization requests received so far.
func (p *TestProvider) AuthRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.authRequests...)
}

// PARRequests returns the pushed authorization requests received so far.
func (p *TestProvider) PARRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.parRequests...)
}

// TokenRequests returns the token requests received so far.
func (p *TestProvider) TokenRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenRequests...)
}

// IssueIDToken signs an id_token for the configured client with the
// provider's current settings.
func (p *TestProvider) IssueIDToken(t *testing.T, nonce string, extra map[string]interface{}) IDToken {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.idToken(nonce, "", extra)
	require.NoError(t, err)
	return IDToken(raw)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	p.writeJSON(w, status, struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{Code: code, Desc: description})
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.handleDiscovery(w, req)
	case "/authorize":
		p.handleAuthorize(w, req)
	case "/par":
		p.handlePAR(w, req)
	case "/token":
		p.handleToken(w, req)
	case "/certs":
		p.writeJSON(w, http.StatusOK, p.jwks)
	case "/userinfo":
		p.handleUserInfo(w, req)
	case "/logout":
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reply := map[string]interface{}{
		"issuer":                                p.Addr(),
		"authorization_endpoint":                p.Addr() + "/authorize",
		"token_endpoint":                        p.Addr() + "/token",
		"jwks_uri":                              p.Addr() + "/certs",
		"userinfo_endpoint":                     p.Addr() + "/userinfo",
		"end_session_endpoint":                  p.Addr() + "/logout",
		"pushed_authorization_request_endpoint": p.Addr() + "/par",
		"response_types_supported":              []string{"code", "id_token", "code id_token"},
		"id_token_signing_alg_values_supported": []string{string(ES256), string(HS256), string(HS384), string(HS512)},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	if p.disableUserInfo {
		delete(reply, "userinfo_endpoint")
	}
	if p.disableEndSess {
		delete(reply, "end_session_endpoint")
	}
	if p.disablePAR {
		delete(reply, "pushed_authorization_request_endpoint")
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	if requestURI := qv.Get("request_uri"); requestURI != "" {
		pushed, ok := p.pushed[requestURI]
		if !ok || qv.Get("client_id") != pushed.Get("client_id") {
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_request_uri", "unknown request_uri")
			return
		}
		delete(p.pushed, requestURI)
		qv = pushed
	}
	p.authRequests = append(p.authRequests, qv)

	redirectURI := qv.Get("redirect_uri")
	switch {
	case qv.Get("client_id") != p.clientID:
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	case !strutil.StrListContains(p.allowedRedirectURIs, redirectURI):
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	}

	responseType := qv.Get("response_type")
	resp := url.Values{}
	resp.Set("state", qv.Get("state"))
	fail := func(code, desc string) {
		resp.Set("error", code)
		if desc != "" {
			resp.Set("error_description", desc)
		}
		p.writeAuthResponse(w, req, redirectURI, qv.Get("response_mode"), responseType, resp)
	}
	switch {
	case !strutil.StrListContains([]string{"code", "id_token", "code id_token"}, responseType):
		fail("unsupported_response_type", "")
		return
	case !strutil.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
		fail("invalid_scope", "openid scope is required")
		return
	case qv.Get("state") == "":
		fail("invalid_request", "missing state parameter")
		return
	case containsResponseType(responseType, "id_token") && qv.Get("nonce") == "":
		fail("invalid_request", "missing nonce parameter")
		return
	case qv.Get("prompt") == "none" && p.loginRequired:
		fail("login_required", "the user is not logged in")
		return
	}

	if containsResponseType(responseType, "code") {
		code, err := id.New("code")
		if err != nil {
			fail("server_error", err.Error())
			return
		}
		p.codes[code] = testAuthorization{
			nonce:               qv.Get("nonce"),
			codeChallenge:       qv.Get("code_challenge"),
			codeChallengeMethod: qv.Get("code_challenge_method"),
			redirectURI:         redirectURI,
			scope:               qv.Get("scope"),
		}
		resp.Set("code", code)
	}
	if containsResponseType(responseType, "id_token") {
		raw, err := p.idToken(qv.Get("nonce"), "", nil)
		if err != nil {
			fail("server_error", err.Error())
			return
		}
		resp.Set("id_token", raw)
	}
	resp.Set("iss", p.Addr())
	p.writeAuthResponse(w, req, redirectURI, qv.Get("response_mode"), responseType, resp)
}

var formPostTmpl = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{ .Action }}">
{{ range $k, $v := .Values }}<input type="hidden" id="{{ $k }}" name="{{ $k }}" value="{{ index $v 0 }}"/>
{{ end }}</form>
</body>
</html>`))

func (p *TestProvider) writeAuthResponse(w http.ResponseWriter, req *http.Request, redirectURI, mode, responseType string, resp url.Values) {
	if mode == "" {
		mode = "fragment"
		if responseType == "code" {
			mode = "query"
		}
	}
	switch mode {
	case "form_post":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = formPostTmpl.Execute(w, struct {
			Action string
			Values url.Values
		}{Action: redirectURI, Values: resp})
	case "fragment":
		http.Redirect(w, req, redirectURI+"#"+resp.Encode(), http.StatusFound)
	default:
		u, _ := url.Parse(redirectURI)
		q := u.Query()
		for k := range resp {
			q.Set(k, resp.Get(k))
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, req, u.String(), http.StatusFound)
	}
}

func (p *TestProvider) handlePAR(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost || p.disablePAR {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	form := req.PostForm
	p.parRequests = append(p.parRequests, form)
	if code, desc := p.authenticateClient(req, form); code != "" {
		p.writeOAuthError(w, http.StatusUnauthorized, code, desc)
		return
	}
	if form.Get("request_uri") != "" {
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "request_uri is not allowed")
		return
	}
	ref, err := id.New("")
	if err != nil {
		p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	requestURI := "urn:ietf:params:oauth:request_uri:" + ref
	pushed := url.Values{}
	for k := range form {
		switch k {
		case "client_secret", "client_assertion", "client_assertion_type":
		default:
			pushed.Set(k, form.Get(k))
		}
	}
	pushed.Set("client_id", p.clientID)
	p.pushed[requestURI] = pushed
	p.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"request_uri": requestURI,
		"expires_in":  60,
	})
}

// authenticateClient returns an OAuth error code when the request's client
// authentication is invalid.
func (p *TestProvider) authenticateClient(req *http.Request, form url.Values) (code, desc string) {
	if user, pass, ok := req.BasicAuth(); ok {
		user, _ = url.QueryUnescape(user)
		pass, _ = url.QueryUnescape(pass)
		if user != p.clientID || subtle.ConstantTimeCompare([]byte(pass), []byte(p.clientSecret)) != 1 {
			return "invalid_client", "bad basic credentials"
		}
		return "", ""
	}
	if form.Get("client_id") != p.clientID {
		return "invalid_client", "unknown client_id"
	}
	switch {
	case form.Get("client_assertion") != "":
		if form.Get("client_assertion_type") != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
			return "invalid_client", "bad client_assertion_type"
		}
		return p.verifyClientAssertion(form.Get("client_assertion"))
	case form.Get("client_secret") != "":
		if subtle.ConstantTimeCompare([]byte(form.Get("client_secret")), []byte(p.clientSecret)) != 1 {
			return "invalid_client", "bad client_secret"
		}
		return "", ""
	case p.clientSecret != "" || p.clientAssertionKey != nil:
		return "invalid_client", "client authentication is required"
	}
	return "", ""
}

func (p *TestProvider) verifyClientAssertion(raw string) (code, desc string) {
	algs := []jose.SignatureAlgorithm{
		jose.HS256, jose.HS384, jose.HS512, jose.RS256, jose.RS384, jose.RS512,
		jose.PS256, jose.PS384, jose.PS512, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
	}
	tok, err := jwt.ParseSigned(raw, algs)
	if err != nil || len(tok.Headers) != 1 {
		return "invalid_client", "malformed client_assertion"
	}
	var key interface{} = p.clientAssertionKey
	if Alg(tok.Headers[0].Algorithm).IsHMAC() {
		key = []byte(p.clientSecret)
	}
	if key == nil {
		return "invalid_client", "no key to verify client_assertion"
	}
	var claims jwt.Claims
	if err := tok.Claims(key, &claims); err != nil {
		return "invalid_client", "invalid client_assertion signature"
	}
	err = claims.ValidateWithLeeway(jwt.Expected{
		Issuer:  p.clientID,
		Subject: p.clientID,
		Time:    p.nowFunc(),
	}, time.Minute)
	if err != nil {
		return "invalid_client", err.Error()
	}
	if !claims.Audience.Contains(p.Addr()) && !claims.Audience.Contains(p.Addr()+"/token") {
		return "invalid_client", "client_assertion audience is invalid"
	}
	return "", ""
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	form := req.PostForm
	p.tokenRequests = append(p.tokenRequests, form)
	if code, desc := p.authenticateClient(req, form); code != "" {
		p.writeOAuthError(w, http.StatusUnauthorized, code, desc)
		return
	}
	if p.tokenError != nil {
		p.writeOAuthError(w, p.tokenError.status, p.tokenError.code, p.tokenError.description)
		return
	}

	var (
		nonce string
		scope string
	)
	switch form.Get("grant_type") {
	case "authorization_code":
		authz, ok := p.codes[form.Get("code")]
		if !ok {
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		}
		// codes are single use
		delete(p.codes, form.Get("code"))
		if form.Get("redirect_uri") != authz.redirectURI {
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		}
		if authz.codeChallenge != "" {
			if authz.codeChallengeMethod != "S256" || oauth2.S256ChallengeFromVerifier(form.Get("code_verifier")) != authz.codeChallenge {
				p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
				return
			}
		}
		nonce, scope = authz.nonce, authz.scope
	case "refresh_token":
		s, ok := p.refreshTokens[form.Get("refresh_token")]
		if !ok {
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh_token")
			return
		}
		scope = s
	default:
		p.writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}

	accessToken, err := id.New("at")
	if err != nil {
		p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	p.accessTokens[accessToken] = p.replySubject
	reply := map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"scope":        scope,
	}
	if p.expiresIn > 0 {
		reply["expires_in"] = p.expiresIn
	}
	if !p.omitRefreshToken {
		rt, err := id.New("rt")
		if err != nil {
			p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		p.refreshTokens[rt] = scope
		reply["refresh_token"] = rt
	}
	if !p.omitIDToken {
		raw, err := p.idToken(nonce, accessToken, nil)
		if err != nil {
			p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		reply["id_token"] = raw
	}
	w.Header().Set("Cache-Control", "no-store")
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, req *http.Request) {
	if p.disableUserInfo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	at := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	sub, ok := p.accessTokens[at]
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	reply := map[string]interface{}{"sub": sub}
	for k, v := range p.replyUserinfo {
		reply[k] = v
	}
	p.writeJSON(w, http.StatusOK, reply)
}

// idToken signs an id_token. p.mu must be held.
func (p *TestProvider) idToken(nonce, accessToken string, extra map[string]interface{}) (string, error) {
	now := p.nowFunc()
	claims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		Audience:  jwt.Audience{p.clientID},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	private := map[string]interface{}{}
	for k, v := range p.customClaims {
		private[k] = v
	}
	for k, v := range extra {
		private[k] = v
	}
	if nonce != "" {
		private["nonce"] = nonce
	}
	alg := ES256
	if p.idTokenAlg.IsHMAC() {
		alg = p.idTokenAlg
	}
	if accessToken != "" {
		var h hash.Hash
		switch {
		case strings.HasSuffix(string(alg), "384"):
			h = sha512.New384()
		case strings.HasSuffix(string(alg), "512"):
			h = sha512.New()
		default:
			h = sha256.New()
		}
		h.Write([]byte(accessToken))
		sum := h.Sum(nil)
		private["at_hash"] = base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
	}
	if alg.IsHMAC() {
		return signJWT([]byte(p.clientSecret), alg, "", claims, private)
	}
	return signJWT(p.signingKey, ES256, p.keyID, claims, private)
}
