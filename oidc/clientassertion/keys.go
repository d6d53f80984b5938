// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// ParsePrivateKey parses a PEM encoded (PKCS #8, PKCS #1 or SEC 1) or JWK
// encoded private key.
func ParsePrivateKey(encoded string) (crypto.Signer, error) {
	const op = "clientassertion.ParsePrivateKey"
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%s: %w: empty", op, ErrInvalidPrivateKey)
	}

	if strings.HasPrefix(encoded, "{") {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON([]byte(encoded)); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPrivateKey, err)
		}
		if jwk.IsPublic() {
			return nil, fmt.Errorf("%s: %w: jwk is a public key", op, ErrInvalidPrivateKey)
		}
		signer, ok := jwk.Key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%s: %w: unsupported jwk key type %T", op, ErrInvalidPrivateKey, jwk.Key)
		}
		return signer, nil
	}

	block, _ := pem.Decode([]byte(encoded))
	if block == nil {
		return nil, fmt.Errorf("%s: %w: no PEM block found", op, ErrInvalidPrivateKey)
	}
	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPrivateKey, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: %w: unsupported key type %T", op, ErrInvalidPrivateKey, key)
	}
	return signer, nil
}
