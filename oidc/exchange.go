// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// AuthResponse is the authentication response delivered to the redirect URL,
// either as query parameters or as a form_post body.
type AuthResponse struct {
	Code             string
	State            string
	IDToken          IDToken
	Issuer           string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// ParseAuthResponse reads the authentication response from a callback
// request. GET requests are read from the query and POST requests from the
// form body.
func ParseAuthResponse(r *http.Request) (*AuthResponse, error) {
	const op = "oidc.ParseAuthResponse"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	var v url.Values
	switch r.Method {
	case http.MethodGet:
		v = r.URL.Query()
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%s: unable to parse form: %w: %w", op, ErrInvalidParameter, err)
		}
		v = r.PostForm
	default:
		return nil, fmt.Errorf("%s: method %s is not supported: %w", op, r.Method, ErrInvalidParameter)
	}
	return &AuthResponse{
		Code:             v.Get("code"),
		State:            v.Get("state"),
		IDToken:          IDToken(v.Get("id_token")),
		Issuer:           v.Get("iss"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
		ErrorURI:         v.Get("error_uri"),
	}, nil
}

// ExchangeChecks are the values the authentication response is checked
// against. They come from the transaction started by the login request.
type ExchangeChecks struct {
	// ExpectedState must equal the response's state.
	ExpectedState string
	// ExpectedNonce must equal the id_token's nonce.
	ExpectedNonce string
	// CodeVerifier is the PKCE verifier, empty when PKCE wasn't used.
	CodeVerifier string
	// RedirectURL is the redirect_uri sent with the authorization request.
	RedirectURL string
	// ResponseType is the requested response_type, "code" by default.
	ResponseType string
}

// TokenResult is the verified outcome of an exchange or refresh.
type TokenResult struct {
	Tokens *TokenSet
	// Claims of the verified id_token, nil when no id_token was returned.
	Claims map[string]interface{}
}

// Exchange completes the authentication flow. Authorization endpoint errors
// are returned as a *ProviderError, the state is checked, any front channel
// id_token is verified and for the code and hybrid flows the code is
// exchanged at the token endpoint. Every id_token must carry the expected
// nonce and when an at_hash claim is present it must match the access_token.
//
// Token endpoint errors with an error code are returned as a *ProviderError.
// The params are sent along with the token request.
func (c *Client) Exchange(ctx context.Context, resp *AuthResponse, checks ExchangeChecks, params map[string]string) (*TokenResult, error) {
	const op = "Client.Exchange"
	if resp == nil {
		return nil, fmt.Errorf("%s: auth response is nil: %w", op, ErrNilParameter)
	}
	responseType := checks.ResponseType
	if responseType == "" {
		responseType = "code"
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("oidc.issuer", c.issuer),
		attribute.String("oidc.response_type", responseType),
	))
	defer span.End()

	if resp.Error != "" {
		return nil, recordErr(span, fmt.Errorf("%s: %w", op, &ProviderError{
			Source:      AuthorizationEndpoint,
			Code:        resp.Error,
			Description: resp.ErrorDescription,
			URI:         resp.ErrorURI,
			Wrapped:     ErrLoginFailed,
		}))
	}
	if checks.ExpectedState == "" || resp.State != checks.ExpectedState {
		return nil, recordErr(span, fmt.Errorf("%s: authentication state and authorization state are not equal: %w", op, ErrResponseStateInvalid))
	}
	if checks.ExpectedNonce == "" {
		return nil, recordErr(span, fmt.Errorf("%s: expected nonce is empty: %w", op, ErrInvalidParameter))
	}
	if resp.Issuer != "" && resp.Issuer != c.issuer {
		return nil, recordErr(span, fmt.Errorf("%s: response issuer %q does not match %q: %w", op, resp.Issuer, c.issuer, ErrInvalidIssuer))
	}

	var (
		front        *TokenResult
		frontIDT     string
		frontSubject string
	)
	if containsResponseType(responseType, "id_token") {
		idt, claims, err := c.verifyIDToken(ctx, string(resp.IDToken), checks.ExpectedNonce)
		if err != nil {
			return nil, recordErr(span, fmt.Errorf("%s: %w", op, err))
		}
		frontIDT, frontSubject = string(resp.IDToken), idt.Subject
		front = &TokenResult{Tokens: &TokenSet{IDToken: resp.IDToken}, Claims: claims}
	}
	if !containsResponseType(responseType, "code") {
		if front == nil {
			return nil, recordErr(span, fmt.Errorf("%s: unsupported response_type %q: %w", op, responseType, ErrInvalidParameter))
		}
		return front, nil
	}
	if resp.Code == "" {
		return nil, recordErr(span, fmt.Errorf("%s: %w", op, ErrMissingCode))
	}

	var opts []oauth2.AuthCodeOption
	if checks.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(checks.CodeVerifier))
	}
	tctx, cancel := c.requestContext(ctx, c.tokenHTTPClient(params))
	defer cancel()
	tk, err := c.oauth2Config(checks.RedirectURL).Exchange(tctx, resp.Code, opts...)
	if err != nil {
		if pe, ok := providerErrorFrom(err, ErrExchangeFailed); ok {
			return nil, recordErr(span, fmt.Errorf("%s: %w", op, pe))
		}
		return nil, recordErr(span, fmt.Errorf("%s: unable to exchange auth code with provider: %w: %w", op, ErrExchangeFailed, err))
	}

	tokens := newTokenSet(tk)
	if tokens.AccessToken == "" {
		return nil, recordErr(span, fmt.Errorf("%s: %w", op, ErrMissingAccessToken))
	}
	if tokens.IDToken == "" {
		if front == nil {
			return nil, recordErr(span, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken))
		}
		tokens.IDToken = IDToken(frontIDT)
		return &TokenResult{Tokens: tokens, Claims: front.Claims}, nil
	}
	idt, claims, err := c.verifyIDToken(ctx, string(tokens.IDToken), checks.ExpectedNonce)
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("%s: %w", op, err))
	}
	if front != nil && idt.Subject != frontSubject {
		return nil, recordErr(span, fmt.Errorf("%s: token endpoint id_token subject differs from authorization response: %w", op, ErrIDTokenVerificationFailed))
	}
	if idt.AccessTokenHash != "" {
		if err := verifyAccessTokenHash(idt, tokens.IDToken, tokens.AccessToken); err != nil {
			return nil, recordErr(span, fmt.Errorf("%s: %w", op, err))
		}
	}
	c.logger.Debug("exchanged authorization code", "subject", idt.Subject, "scope", tokens.Scope)
	return &TokenResult{Tokens: tokens, Claims: claims}, nil
}

// Refresh performs a refresh_token grant. The returned TokenSet only has
// the values the provider returned, callers merge it over the previous set
// with TokenSet.Merge. Claims are set when a new id_token was returned and
// verified.
func (c *Client) Refresh(ctx context.Context, rt RefreshToken, params map[string]string) (*TokenResult, error) {
	const op = "Client.Refresh"
	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("oidc.issuer", c.issuer)))
	defer span.End()

	tctx, cancel := c.requestContext(ctx, c.tokenHTTPClient(params))
	defer cancel()
	// an empty access token forces the token source to refresh
	tk, err := c.oauth2Config("").TokenSource(tctx, &oauth2.Token{RefreshToken: string(rt)}).Token()
	if err != nil {
		if pe, ok := providerErrorFrom(err, ErrRefreshFailed); ok {
			return nil, recordErr(span, fmt.Errorf("%s: %w", op, pe))
		}
		return nil, recordErr(span, fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err))
	}

	result := &TokenResult{Tokens: newTokenSet(tk)}
	if result.Tokens.IDToken != "" {
		_, claims, err := c.verifyIDToken(ctx, string(result.Tokens.IDToken), "")
		if err != nil {
			return nil, recordErr(span, fmt.Errorf("%s: %w", op, err))
		}
		result.Claims = claims
	}
	c.logger.Debug("refreshed tokens", "id_token", result.Tokens.IDToken != "")
	return result, nil
}

// UserInfo gets the UserInfo claims from the provider using the access
// token. The response's sub must equal the expected subject. See:
// https://openid.net/specs/openid-connect-core-1_0.html#UserInfoResponse
func (c *Client) UserInfo(ctx context.Context, at AccessToken, subject string) (map[string]interface{}, error) {
	const op = "Client.UserInfo"
	switch {
	case at == "":
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	case subject == "":
		return nil, fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("oidc.issuer", c.issuer)))
	defer span.End()

	rctx, cancel := c.requestContext(ctx, nil)
	defer cancel()
	info, err := c.provider.UserInfo(rctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(at),
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("%s: provider UserInfo request failed: %w: %w", op, ErrUserInfoFailed, err))
	}
	if info.Subject != subject {
		return nil, recordErr(span, fmt.Errorf("%s: %w", op, ErrUserInfoSubjectMismatch))
	}
	claims := map[string]interface{}{}
	if err := info.Claims(&claims); err != nil {
		return nil, recordErr(span, fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err))
	}
	return claims, nil
}
