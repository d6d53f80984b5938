// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs JWTs with a Private Key or Client Secret
// for use in OIDC client_assertion requests, A.K.A. private_key_jwt and
// client_secret_jwt.
// reference: https://oauth.net/private-key-jwt/
package clientassertion

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

const (
	// JWTTypeParam is the proper value for client_assertion_type.
	// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
	JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// DefaultLifetime is how long a serialized assertion is valid.
	DefaultLifetime = 5 * time.Minute
)

// NewJWTWithHMAC creates a new JWT which will be signed with an HMAC secret.
//
// Supported Options: WithKeyID, WithHeaders, WithNow, WithLifetime
func NewJWTWithHMAC(clientID string, audience []string, alg HSAlgorithm, secret string, opts ...Option) (*JWT, error) {
	const op = "NewJWTWithHMAC"
	if err := alg.Validate(secret); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j, err := newJWT(clientID, audience, jose.SignatureAlgorithm(alg), nil, secret, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// NewJWTWithKey creates a new JWT which will be signed with a private key.
//
// Supported Options: WithKeyID, WithHeaders, WithNow, WithLifetime
func NewJWTWithKey(clientID string, audience []string, alg KeyAlgorithm, key crypto.Signer, opts ...Option) (*JWT, error) {
	const op = "NewJWTWithKey"
	if err := alg.Validate(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j, err := newJWT(clientID, audience, jose.SignatureAlgorithm(alg), key, "", opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

func newJWT(clientID string, audience []string, alg jose.SignatureAlgorithm, key crypto.Signer, secret string, opts ...Option) (*JWT, error) {
	j := &JWT{
		clientID: clientID,
		audience: audience,
		alg:      alg,
		secret:   secret,
		headers:  make(map[string]string),
		genID:    uuid.GenerateUUID,
		now:      time.Now,
		lifetime: DefaultLifetime,
	}
	if key != nil {
		j.key = key
	}

	var errs []error
	for _, opt := range opts {
		if err := opt(j); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := j.validate(); err != nil {
		return nil, err
	}

	// we can't pre-validate everything and this whole thing is useless if it
	// can't Serialize()
	if _, err := j.Serialize(); err != nil {
		return nil, err
	}

	return j, nil
}

// JWT is used to create a client assertion JWT, a special JWT used by an OAuth
// 2.0 or OIDC client to authenticate themselves to an authorization server
type JWT struct {
	// for JWT claims
	clientID string
	audience []string
	headers  map[string]string
	lifetime time.Duration

	// for signer
	alg jose.SignatureAlgorithm
	// key may be any key type that jose.SigningKey accepts for its Key
	key any
	// secret may be used instead of key
	secret string

	// these are overwritten for testing
	genID func() (string, error)
	now   func() time.Time
}

// Serialize returns a newly signed client assertion JWT with a unique jti
// claim. Call it for every token request.
func (j *JWT) Serialize() (string, error) {
	const op = "JWT.Serialize"
	builder, err := j.builder()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize token: %w", op, err)
	}
	return token, nil
}

func (j *JWT) validate() error {
	const op = "JWT.validate"
	var errs []error
	if j.genID == nil {
		errs = append(errs, ErrMissingFuncIDGenerator)
	}
	if j.now == nil {
		errs = append(errs, ErrMissingFuncNow)
	}
	// bail early if any internal func errors
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	if j.clientID == "" {
		errs = append(errs, ErrMissingClientID)
	}
	if len(j.audience) == 0 {
		errs = append(errs, ErrMissingAudience)
	}
	if j.alg == "" {
		errs = append(errs, ErrMissingAlgorithm)
	}
	if j.key == nil && j.secret == "" {
		errs = append(errs, ErrMissingKeyOrSecret)
	}
	if j.key != nil && j.secret != "" {
		errs = append(errs, ErrBothKeyAndSecret)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return nil
}

func (j *JWT) builder() (jwt.Builder, error) {
	const op = "builder"
	signer, err := j.signer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := j.genID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate token id: %w", op, err)
	}
	return jwt.Signed(signer).Claims(j.claims(id)), nil
}

func (j *JWT) signer() (jose.Signer, error) {
	const op = "signer"
	sKey := jose.SigningKey{
		Algorithm: j.alg,
	}

	// validate() ensures these are mutually exclusive
	if j.secret != "" {
		sKey.Key = []byte(j.secret)
	}
	if j.key != nil {
		sKey.Key = j.key
	}

	sOpts := &jose.SignerOptions{
		ExtraHeaders: make(map[jose.HeaderKey]interface{}, len(j.headers)),
	}
	for k, v := range j.headers {
		sOpts.ExtraHeaders[jose.HeaderKey(k)] = v
	}

	signer, err := jose.NewSigner(sKey, sOpts.WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}
	return signer, nil
}

func (j *JWT) claims(id string) *jwt.Claims {
	now := j.now().UTC()
	return &jwt.Claims{
		Issuer:    j.clientID,
		Subject:   j.clientID,
		Audience:  j.audience,
		Expiry:    jwt.NewNumericDate(now.Add(j.lifetime)),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        id,
	}
}
