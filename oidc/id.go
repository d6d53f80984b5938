// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/oidcrp/sdk/id"
	"golang.org/x/oauth2"
)

// randomLength gives state and nonce values ~190 bits of entropy.
const randomLength = 32

// NewState generates a random value suitable for the oidc "state" parameter.
func NewState() (string, error) {
	const op = "oidc.NewState"
	s, err := id.NewWithLength("", randomLength)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	return s, nil
}

// NewNonce generates a random value suitable for the oidc "nonce" parameter.
func NewNonce() (string, error) {
	const op = "oidc.NewNonce"
	n, err := id.NewWithLength("", randomLength)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	return n, nil
}

// NewCodeVerifier generates a PKCE code_verifier (RFC 7636 section 4.1).
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// CodeChallenge derives the S256 code_challenge for a PKCE code_verifier.
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
