// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNotFound         = errors.New("not found")
	ErrCodecFailed      = errors.New("session value codec failed")
	ErrBackendFailed    = errors.New("session backend failed")
	ErrSaveFailed       = errors.New("unable to save session")
)
