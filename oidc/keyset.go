// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

// keySet verifies id_token signatures. HMAC signed tokens are verified with
// the client secret, everything else is delegated to the provider's JWKS.
type keySet struct {
	remote oidc.KeySet
	secret []byte
	algs   []jose.SignatureAlgorithm
}

var _ oidc.KeySet = (*keySet)(nil)

func newKeySet(remote oidc.KeySet, secret ClientSecret, supported []Alg) *keySet {
	algs := make([]jose.SignatureAlgorithm, 0, len(supported))
	for _, a := range supported {
		algs = append(algs, jose.SignatureAlgorithm(a))
	}
	return &keySet{
		remote: remote,
		secret: []byte(secret),
		algs:   algs,
	}
}

// VerifySignature parses the given JWT, verifies its signature and returns
// its payload. The given JWT must be of the JWS compact serialization form.
func (ks *keySet) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	const op = "keySet.VerifySignature"
	jws, err := jose.ParseSigned(token, ks.algs)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed jwt: %w", op, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%s: jwt must have exactly one signature: %w", op, ErrInvalidParameter)
	}
	if !Alg(jws.Signatures[0].Header.Algorithm).IsHMAC() {
		return ks.remote.VerifySignature(ctx, token)
	}
	if len(ks.secret) == 0 {
		return nil, fmt.Errorf("%s: no client secret for %s: %w", op, jws.Signatures[0].Header.Algorithm, ErrInvalidParameter)
	}
	payload, err := jws.Verify(ks.secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payload, nil
}
