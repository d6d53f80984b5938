// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// IDToken is an oidc id_token
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Claims retrieves the IDToken claims. The signature is not checked, callers
// must only use it on tokens returned by Client.Exchange or Client.Refresh
// which have already been verified.
func (t IDToken) Claims(claims interface{}) error {
	const op = "IDToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token
// without verifying its signature.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parsed, err := jwt.ParseSigned(rawToken, allJoseAlgs())
	if err != nil {
		return fmt.Errorf("%s: unable to parse jwt: %w: %w", op, ErrInvalidParameter, err)
	}
	if err := parsed.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal jwt claims: %w", op, err)
	}
	return nil
}

func allJoseAlgs() []jose.SignatureAlgorithm {
	algs := make([]jose.SignatureAlgorithm, 0, len(supportedAlgorithms))
	for a := range supportedAlgorithms {
		algs = append(algs, jose.SignatureAlgorithm(a))
	}
	return algs
}

// verifyAccessTokenHash checks the at_hash of a verified id_token against
// at. go-oidc only hashes for the asymmetric algs, the HS* ones are checked
// here.
func verifyAccessTokenHash(idt *oidc.IDToken, raw IDToken, at AccessToken) error {
	const op = "oidc.verifyAccessTokenHash"
	parsed, err := jwt.ParseSigned(string(raw), allJoseAlgs())
	if err != nil {
		return fmt.Errorf("%s: unable to parse jwt: %w: %w", op, ErrInvalidAtHash, err)
	}
	if len(parsed.Headers) != 1 {
		return fmt.Errorf("%s: expected one signature: %w", op, ErrInvalidAtHash)
	}
	var h hash.Hash
	switch Alg(parsed.Headers[0].Algorithm) {
	case HS256:
		h = sha256.New()
	case HS384:
		h = sha512.New384()
	case HS512:
		h = sha512.New()
	default:
		if err := idt.VerifyAccessToken(string(at)); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidAtHash, err)
		}
		return nil
	}
	h.Write([]byte(at))
	sum := h.Sum(nil)
	want := base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
	if subtle.ConstantTimeCompare([]byte(want), []byte(idt.AccessTokenHash)) != 1 {
		return fmt.Errorf("%s: %w", op, ErrInvalidAtHash)
	}
	return nil
}
