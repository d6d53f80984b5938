// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// AuthParams are the parameters of an authorization request. Values are
// sent as is, empty values are omitted.
type AuthParams map[string]string

func (p AuthParams) validate(op string) error {
	switch {
	case p["state"] == "":
		return fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	case p["redirect_uri"] == "":
		return fmt.Errorf("%s: redirect_uri is empty: %w", op, ErrInvalidParameter)
	case containsResponseType(p["response_type"], "id_token") && p["nonce"] == "":
		return fmt.Errorf("%s: nonce is required for response_type %q: %w", op, p["response_type"], ErrInvalidParameter)
	case p["state"] == p["nonce"]:
		return fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	return nil
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authentication flow with the provider. The params must include state and
// redirect_uri. When response_type and scope are omitted the defaults "code"
// and the configured scopes are used.
//
// See NewState(), NewNonce() and NewCodeVerifier().
func (c *Client) AuthURL(ctx context.Context, params AuthParams) (string, error) {
	const op = "Client.AuthURL"
	if err := params.validate(op); err != nil {
		return "", err
	}
	// state is set by AuthCodeURL and every other value overrides the
	// oauth2.Config defaults.
	cfg := c.oauth2Config(params["redirect_uri"])
	return cfg.AuthCodeURL(params["state"], authCodeOptions(params)...), nil
}

// AuthURLWithPAR pushes the authorization request to the provider's pushed
// authorization request endpoint (RFC 9126) and returns the authorization
// endpoint URL referencing it.
func (c *Client) AuthURLWithPAR(ctx context.Context, params AuthParams) (string, error) {
	const op = "Client.AuthURLWithPAR"
	if err := params.validate(op); err != nil {
		return "", err
	}
	if c.parURL == "" {
		return "", fmt.Errorf("%s: pushed_authorization_request_endpoint: %w", op, ErrUnsupportedEndpoint)
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("oidc.issuer", c.issuer)))
	defer span.End()

	form := url.Values{}
	if params["response_type"] == "" {
		form.Set("response_type", "code")
	}
	if params["scope"] == "" {
		form.Set("scope", strings.Join(c.config.Scopes, " "))
	}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}
	if err := c.authenticateForm(form); err != nil {
		return "", recordErr(span, fmt.Errorf("%s: %w", op, err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.parURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", recordErr(span, fmt.Errorf("%s: unable to create request: %w", op, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.AuthMethod == ClientSecretBasic {
		req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(string(c.config.ClientSecret)))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", recordErr(span, fmt.Errorf("%s: %w: %w", op, ErrPushedAuthRequestFailed, err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", recordErr(span, fmt.Errorf("%s: unable to read response: %w: %w", op, ErrPushedAuthRequestFailed, err))
	}

	var reply struct {
		RequestURI       string `json:"request_uri"`
		ExpiresIn        int64  `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	decodeErr := json.Unmarshal(body, &reply)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || reply.Error != "" {
		if reply.Error != "" {
			return "", recordErr(span, fmt.Errorf("%s: %w", op, &ProviderError{
				Source:      PushedAuthorizationEndpoint,
				Code:        reply.Error,
				Description: reply.ErrorDescription,
				URI:         reply.ErrorURI,
				StatusCode:  resp.StatusCode,
				Wrapped:     ErrPushedAuthRequestFailed,
			}))
		}
		return "", recordErr(span, fmt.Errorf("%s: unexpected status %d: %w", op, resp.StatusCode, ErrPushedAuthRequestFailed))
	}
	if decodeErr != nil {
		return "", recordErr(span, fmt.Errorf("%s: unable to decode response: %w: %w", op, ErrPushedAuthRequestFailed, decodeErr))
	}
	if reply.RequestURI == "" {
		return "", recordErr(span, fmt.Errorf("%s: request_uri is missing: %w", op, ErrPushedAuthRequestFailed))
	}
	c.logger.Debug("pushed authorization request", "expires_in", reply.ExpiresIn)

	u, err := url.Parse(c.endpoint.AuthURL)
	if err != nil {
		return "", recordErr(span, fmt.Errorf("%s: invalid authorization endpoint: %w", op, err))
	}
	q := u.Query()
	q.Set("client_id", c.config.ClientID)
	q.Set("request_uri", reply.RequestURI)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EndSessionURL returns the provider's RP-initiated logout URL. See:
// https://openid.net/specs/openid-connect-rpinitiated-1_0.html
//
// The extra params are added first so id_token_hint, post_logout_redirect_uri
// and client_id can't be overridden.
func (c *Client) EndSessionURL(idTokenHint IDToken, postLogoutRedirectURI string, extra map[string]string) (string, error) {
	const op = "Client.EndSessionURL"
	if c.endSessionURL == "" {
		return "", fmt.Errorf("%s: end_session_endpoint: %w", op, ErrUnsupportedEndpoint)
	}
	u, err := url.Parse(c.endSessionURL)
	if err != nil {
		return "", fmt.Errorf("%s: invalid end_session_endpoint: %w", op, err)
	}
	q := u.Query()
	for k, v := range extra {
		if v != "" {
			q.Set(k, v)
		}
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	q.Set("client_id", c.config.ClientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// authCodeOptions converts params to oauth2 options in a stable order.
func authCodeOptions(params AuthParams) []oauth2.AuthCodeOption {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "state" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, params[k]))
	}
	return opts
}
