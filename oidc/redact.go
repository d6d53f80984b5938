// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "encoding/json"

const (
	// RedactedAccessToken replaces an access_token in logs and json.
	RedactedAccessToken = "[REDACTED: access_token]"

	// RedactedRefreshToken replaces a refresh_token in logs and json.
	RedactedRefreshToken = "[REDACTED: refresh_token]"
)

// AccessToken is an oauth access_token. It never formats or marshals its
// value; convert it to a string to send it.
type AccessToken string

func (t AccessToken) String() string { return RedactedAccessToken }

func (t AccessToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedAccessToken) }

// RefreshToken is an oauth refresh_token, redacted like AccessToken.
type RefreshToken string

func (t RefreshToken) String() string { return RedactedRefreshToken }

func (t RefreshToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedRefreshToken) }
