// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/oidcrp/oidc/clientassertion"
)

// authenticateForm adds the body parameters of the client authentication
// method to form. client_secret_basic credentials are sent in the
// Authorization header by the caller.
func (c *Client) authenticateForm(form url.Values) error {
	const op = "Client.authenticateForm"
	form.Set("client_id", c.config.ClientID)
	switch c.config.AuthMethod {
	case ClientSecretPost:
		form.Set("client_secret", string(c.config.ClientSecret))
	case ClientSecretJWT, PrivateKeyJWT:
		if c.assertion == nil {
			return fmt.Errorf("%s: client assertion is not configured: %w", op, ErrClientAuthFailed)
		}
		signed, err := c.assertion.Serialize()
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrClientAuthFailed, err)
		}
		form.Set("client_assertion_type", clientassertion.JWTTypeParam)
		form.Set("client_assertion", signed)
	}
	return nil
}

// tokenHTTPClient returns the provider http client, wrapped so token
// endpoint requests carry the client assertion and the extra params.
func (c *Client) tokenHTTPClient(params map[string]string) *http.Client {
	if c.assertion == nil && len(params) == 0 {
		return c.httpClient
	}
	next := c.httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return &http.Client{
		Transport: &tokenTransport{
			next:     next,
			tokenURL: c.endpoint.TokenURL,
			params:   params,
			client:   c,
		},
		Timeout: c.httpClient.Timeout,
	}
}

// tokenTransport rewrites the form body of token endpoint requests made by
// golang.org/x/oauth2.
type tokenTransport struct {
	next     http.RoundTripper
	tokenURL string
	params   map[string]string
	client   *Client
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	const op = "tokenTransport.RoundTrip"
	if req.Method != http.MethodPost || req.URL.String() != t.tokenURL || req.Body == nil {
		return t.next.RoundTrip(req)
	}
	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read token request: %w", op, err)
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token request: %w", op, err)
	}
	for k, v := range t.params {
		// the grant's own parameters win
		if v != "" && form.Get(k) == "" {
			form.Set(k, v)
		}
	}
	if t.client.assertion != nil {
		if err := t.client.authenticateForm(form); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	body := []byte(form.Encode())
	// RoundTrippers must not modify the caller's request
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	r.ContentLength = int64(len(body))
	return t.next.RoundTrip(r)
}
