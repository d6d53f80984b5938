// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTestProvider(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)

	resp, err := tp.HTTPClient().Get(tp.Addr() + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	var doc map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(tp.Addr(), doc["issuer"])
	assert.Equal(tp.Addr()+"/par", doc["pushed_authorization_request_endpoint"])
	assert.Equal(tp.Addr()+"/logout", doc["end_session_endpoint"])

	certs, err := tp.HTTPClient().Get(tp.Addr() + "/certs")
	require.NoError(err)
	defer certs.Body.Close()
	assert.Equal(http.StatusOK, certs.StatusCode)
}

func TestTestProvider_disabledEndpoints(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	tp.DisablePAR()
	tp.DisableEndSession()
	tp.DisableUserInfo()

	resp, err := tp.HTTPClient().Get(tp.Addr() + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	var doc map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&doc))
	for _, k := range []string{"pushed_authorization_request_endpoint", "end_session_endpoint", "userinfo_endpoint"} {
		assert.NotContains(doc, k)
	}
}

func TestTestProvider_authorize(t *testing.T) {
	t.Parallel()
	tp := testStartProvider(t)

	authorize := func(t *testing.T, q url.Values) *http.Response {
		t.Helper()
		resp, err := tp.HTTPClient().Get(tp.Addr() + "/authorize?" + q.Encode())
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}
	base := func() url.Values {
		return url.Values{
			"client_id":     {testClientID},
			"redirect_uri":  {testRedirectURL},
			"response_type": {"code"},
			"scope":         {"openid"},
			"state":         {"the-state"},
			"nonce":         {"the-nonce"},
		}
	}

	t.Run("code-query", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp := authorize(t, base())
		require.Equal(http.StatusFound, resp.StatusCode)
		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(err)
		assert.Equal("the-state", loc.Query().Get("state"))
		assert.NotEmpty(loc.Query().Get("code"))
		assert.Equal(tp.Addr(), loc.Query().Get("iss"))
	})
	t.Run("form-post", func(t *testing.T) {
		assert := assert.New(t)
		q := base()
		q.Set("response_type", "id_token")
		q.Set("response_mode", "form_post")
		resp := authorize(t, q)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.True(strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
		action, values := TestParseFormPost(t, resp.Body)
		assert.Equal(testRedirectURL, action)
		assert.Equal("the-state", values.Get("state"))
		assert.NotEmpty(values.Get("id_token"))
	})
	t.Run("login-required", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp.SetLoginRequired(true)
		defer tp.SetLoginRequired(false)
		q := base()
		q.Set("prompt", "none")
		resp := authorize(t, q)
		require.Equal(http.StatusFound, resp.StatusCode)
		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(err)
		assert.Equal("login_required", loc.Query().Get("error"))
		assert.Equal("the-state", loc.Query().Get("state"))
	})
	t.Run("missing-openid-scope", func(t *testing.T) {
		require := require.New(t)
		q := base()
		q.Set("scope", "profile")
		resp := authorize(t, q)
		require.Equal(http.StatusFound, resp.StatusCode)
		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(err)
		assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	})
	t.Run("unknown-redirect", func(t *testing.T) {
		q := base()
		q.Set("redirect_uri", "https://evil.example.com/callback")
		resp := authorize(t, q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
	t.Run("recorded", func(t *testing.T) {
		reqs := tp.AuthRequests()
		require.NotEmpty(t, reqs)
		assert.Equal(t, testClientID, reqs[0].Get("client_id"))
	})
}

func TestTestProvider_IssueIDToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)
	tp.SetSubject("bob@example.com")
	tp.SetCustomClaims(map[string]interface{}{"groups": []string{"admin"}})

	raw := tp.IssueIDToken(t, "the-nonce", map[string]interface{}{"acr": "1"})

	ctx := oidc.ClientContext(context.Background(), tp.HTTPClient())
	p, err := oidc.NewProvider(ctx, tp.Addr())
	require.NoError(err)
	idt, err := p.Verifier(&oidc.Config{ClientID: testClientID, SupportedSigningAlgs: []string{string(ES256)}}).Verify(ctx, string(raw))
	require.NoError(err)
	assert.Equal("bob@example.com", idt.Subject)
	assert.Equal("the-nonce", idt.Nonce)

	claims := map[string]interface{}{}
	require.NoError(idt.Claims(&claims))
	assert.Equal("1", claims["acr"])
	assert.Equal([]interface{}{"admin"}, claims["groups"])
}

func TestTestProvider_userInfo(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := testStartProvider(t)

	req, err := http.NewRequest(http.MethodGet, tp.Addr()+"/userinfo", nil)
	require.NoError(err)
	req.Header.Set("Authorization", "Bearer unknown")
	resp, err := tp.HTTPClient().Do(req)
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
}
