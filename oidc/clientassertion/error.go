// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "errors"

// Configuration errors returned by New.
var (
	ErrMissingClientID    = errors.New("client id is required")
	ErrMissingAudience    = errors.New("audience is required")
	ErrMissingAlgorithm   = errors.New("signing algorithm is required")
	ErrMissingKeyOrSecret = errors.New("a private key or a client secret is required")
	ErrBothKeyAndSecret   = errors.New("private key and client secret are mutually exclusive")
	ErrInvalidHeaders     = errors.New("alg and typ headers are reserved")
)

// Errors from a JWT that was not built by New.
var (
	ErrMissingFuncIDGenerator = errors.New("jti generator not set")
	ErrMissingFuncNow         = errors.New("clock not set")
	ErrCreatingSigner         = errors.New("unable to create signer")
)

// Key and algorithm errors.
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrInvalidSecretLength  = errors.New("client secret too short for algorithm")
	ErrNilPrivateKey        = errors.New("private key is nil")
	ErrKeyAlgorithmMismatch = errors.New("private key type does not match algorithm")
	ErrInvalidPrivateKey    = errors.New("unable to parse private key")
)
