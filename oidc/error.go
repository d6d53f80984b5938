// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrInvalidIssuer             = errors.New("invalid issuer")
	ErrIdGeneratorFailed         = errors.New("id generation failed")
	ErrResponseStateInvalid      = errors.New("oidc response state")
	ErrMissingCode               = errors.New("authorization code is missing")
	ErrMissingIDToken            = errors.New("id_token is missing")
	ErrMissingAccessToken        = errors.New("access_token is missing")
	ErrIDTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidNonce              = errors.New("invalid nonce")
	ErrInvalidAtHash             = errors.New("access_token hash does not match id_token at_hash")
	ErrNotFound                  = errors.New("not found")
	ErrLoginFailed               = errors.New("login failed")
	ErrExchangeFailed            = errors.New("token exchange failed")
	ErrRefreshFailed             = errors.New("token refresh failed")
	ErrUserInfoFailed            = errors.New("user info failed")
	ErrUserInfoSubjectMismatch   = errors.New("user info subject does not match id_token subject")
	ErrUnsupportedEndpoint       = errors.New("provider does not publish the endpoint")
	ErrDiscoveryFailed           = errors.New("provider discovery failed")
	ErrPushedAuthRequestFailed   = errors.New("pushed authorization request failed")
	ErrClientAuthFailed          = errors.New("unable to authenticate client")
)

// ProviderErrorSource identifies which provider endpoint reported an error.
type ProviderErrorSource string

const (
	// AuthorizationEndpoint errors arrive on the callback as error and
	// error_description parameters.
	AuthorizationEndpoint ProviderErrorSource = "authorization"
	// TokenEndpoint errors are returned in the body of a token request.
	TokenEndpoint ProviderErrorSource = "token"
	// PushedAuthorizationEndpoint errors are returned in the body of a pushed
	// authorization request.
	PushedAuthorizationEndpoint ProviderErrorSource = "pushed_authorization"
)

// ProviderError is a structured OAuth 2.0 error reported by the provider. See:
// https://www.rfc-editor.org/rfc/rfc6749#section-5.2 and
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type ProviderError struct {
	Source      ProviderErrorSource
	Code        string
	Description string
	URI         string

	// StatusCode is the HTTP status returned by the provider, zero for
	// authorization endpoint errors.
	StatusCode int

	Wrapped error
}

// Error satisfies the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s endpoint error: %s", e.Source, e.Code)
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Wrapped.Error())
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *ProviderError) Unwrap() error { return e.Wrapped }

// providerErrorFrom converts an oauth2 token endpoint failure into a
// *ProviderError when the provider returned an error code.
func providerErrorFrom(err error, wrapped error) (*ProviderError, bool) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.ErrorCode == "" {
		return nil, false
	}
	pe := &ProviderError{
		Source:      TokenEndpoint,
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
		URI:         re.ErrorURI,
		Wrapped:     wrapped,
	}
	if re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
	}
	return pe, true
}

// IsProviderError reports whether err carries a *ProviderError.
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
