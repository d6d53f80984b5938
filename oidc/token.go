// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew is the default skew used by TokenSet.Expired.
const DefaultTokenExpirySkew = 10 * time.Second

// TokenSet is the set of tokens returned by a provider's token endpoint (or
// authorization endpoint for implicit flows). The secret values use redacted
// string types, so a TokenSet can be logged safely.
type TokenSet struct {
	AccessToken  AccessToken
	TokenType    string
	RefreshToken RefreshToken
	IDToken      IDToken
	Scope        string

	// ExpiresIn is the access_token lifetime in seconds as reported by the
	// provider. It's nil when the provider did not report one.
	ExpiresIn *int64

	// Expiry is the absolute access_token expiry, zero when unknown.
	Expiry time.Time
}

// newTokenSet converts an oauth2.Token into a TokenSet.
func newTokenSet(t *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  AccessToken(t.AccessToken),
		TokenType:    t.TokenType,
		RefreshToken: RefreshToken(t.RefreshToken),
		Expiry:       t.Expiry,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		ts.IDToken = IDToken(idToken)
	}
	if scope, ok := t.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if t.ExpiresIn > 0 {
		expiresIn := t.ExpiresIn
		ts.ExpiresIn = &expiresIn
	}
	return ts
}

// Merge returns a new TokenSet where every non-empty field of n overrides
// the matching field of t. Fields omitted from n are retained from t.
func (t *TokenSet) Merge(n *TokenSet) *TokenSet {
	if t == nil {
		t = &TokenSet{}
	}
	merged := *t
	if n == nil {
		return &merged
	}
	if n.AccessToken != "" {
		merged.AccessToken = n.AccessToken
	}
	if n.TokenType != "" {
		merged.TokenType = n.TokenType
	}
	if n.RefreshToken != "" {
		merged.RefreshToken = n.RefreshToken
	}
	if n.IDToken != "" {
		merged.IDToken = n.IDToken
	}
	if n.Scope != "" {
		merged.Scope = n.Scope
	}
	if n.ExpiresIn != nil {
		expiresIn := *n.ExpiresIn
		merged.ExpiresIn = &expiresIn
	}
	if !n.Expiry.IsZero() {
		merged.Expiry = n.Expiry
	}
	return &merged
}

// Expired will return true if the access_token expiry has passed, allowing
// for an expiry skew (see: WithExpirySkew). A TokenSet without a known expiry
// never expires.
func (t *TokenSet) Expired(opt ...Option) bool {
	if t == nil || t.Expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return t.Expiry.Round(0).Before(opts.withNow().Add(opts.withExpirySkew))
}

// Valid will ensure that the access_token is not empty or expired.
func (t *TokenSet) Valid(opt ...Option) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return !t.Expired(opt...)
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNow        func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
		withNow:        time.Now,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNow == nil {
		opts.withNow = time.Now
	}
	return opts
}
