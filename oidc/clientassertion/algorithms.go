// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
)

type (
	// HSAlgorithm is an HMAC signature algorithm
	HSAlgorithm string
	// KeyAlgorithm is an asymmetric signature algorithm
	KeyAlgorithm string
)

// JOSE signing algorithm values as defined by RFC 7518.
// See: https://tools.ietf.org/html/rfc7518#section-3.1
const (
	HS256 HSAlgorithm = "HS256" // HMAC using SHA-256
	HS384 HSAlgorithm = "HS384" // HMAC using SHA-384
	HS512 HSAlgorithm = "HS512" // HMAC using SHA-512

	RS256 KeyAlgorithm = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 KeyAlgorithm = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 KeyAlgorithm = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	PS256 KeyAlgorithm = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 KeyAlgorithm = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 KeyAlgorithm = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	ES256 KeyAlgorithm = "ES256" // ECDSA using P-256 and SHA-256
	ES384 KeyAlgorithm = "ES384" // ECDSA using P-384 and SHA-384
	ES512 KeyAlgorithm = "ES512" // ECDSA using P-521 and SHA-512
	EdDSA KeyAlgorithm = "EdDSA" // Ed25519
)

// Validate checks that the secret is a supported algorithm and that it's
// the proper length for the HSAlgorithm:
//   - HS256: >= 32 bytes
//   - HS384: >= 48 bytes
//   - HS512: >= 64 bytes
func (a HSAlgorithm) Validate(secret string) error {
	const op = "HSAlgorithm.Validate"
	if secret == "" {
		return fmt.Errorf("%s: %w: empty", op, ErrInvalidSecretLength)
	}
	var expectLen int
	switch a {
	case HS256:
		expectLen = 32
	case HS384:
		expectLen = 48
	case HS512:
		expectLen = 64
	default:
		return fmt.Errorf("%s: %w %q for client secret", op, ErrUnsupportedAlgorithm, a)
	}
	if len(secret) < expectLen {
		return fmt.Errorf("%s: %w: %q must be %d bytes long", op, ErrInvalidSecretLength, a, expectLen)
	}
	return nil
}

// Validate checks that the key type matches the algorithm. RSA keys must
// also pass rsa.PrivateKey's Validate() method and ECDSA keys must use the
// curve the algorithm names.
func (a KeyAlgorithm) Validate(key crypto.Signer) error {
	const op = "KeyAlgorithm.Validate"
	if key == nil {
		return fmt.Errorf("%s: %w", op, ErrNilPrivateKey)
	}
	switch a {
	case RS256, RS384, RS512, PS256, PS384, PS512:
		k, ok := key.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("%s: %w: %q requires an RSA key, got %T", op, ErrKeyAlgorithmMismatch, a, key)
		}
		if err := k.Validate(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	case ES256, ES384, ES512:
		k, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return fmt.Errorf("%s: %w: %q requires an ECDSA key, got %T", op, ErrKeyAlgorithmMismatch, a, key)
		}
		want := map[KeyAlgorithm]elliptic.Curve{
			ES256: elliptic.P256(),
			ES384: elliptic.P384(),
			ES512: elliptic.P521(),
		}[a]
		if k.Curve != want {
			return fmt.Errorf("%s: %w: %q requires curve %s", op, ErrKeyAlgorithmMismatch, a, want.Params().Name)
		}
	case EdDSA:
		if _, ok := key.(ed25519.PrivateKey); !ok {
			return fmt.Errorf("%s: %w: %q requires an Ed25519 key, got %T", op, ErrKeyAlgorithmMismatch, a, key)
		}
	default:
		return fmt.Errorf("%s: %w %q for private key", op, ErrUnsupportedAlgorithm, a)
	}
	return nil
}
