// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package id generates the random identifiers used across a login flow:
// state and nonce values, PKCE verifiers and server side session ids.
package id

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

// DefaultLength is the number of base62 characters generated by New.
const DefaultLength = 10

// ErrInvalidLength is returned when a requested id length is not positive.
var ErrInvalidLength = errors.New("invalid id length")

// New generates an id with an optional prefix.
func New(optionalPrefix string) (string, error) {
	return NewWithLength(optionalPrefix, DefaultLength)
}

// NewWithLength generates an id of length random base62 characters with an
// optional prefix. Each character carries a little under 6 bits of entropy,
// so 22 characters are enough for 128 bits.
func NewWithLength(optionalPrefix string, length int) (string, error) {
	const op = "id.NewWithLength"
	if length <= 0 {
		return "", fmt.Errorf("%s: %d: %w", op, length, ErrInvalidLength)
	}
	id, err := base62.Random(length)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
