// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"maps"
	"os"
)

// Environment variables read by FromEnv.
const (
	EnvIssuerURL            = "OIDC_ISSUER_URL"
	EnvClientID             = "OIDC_CLIENT_ID"
	EnvClientSecret         = "OIDC_CLIENT_SECRET"
	EnvBaseURL              = "BASE_URL"
	EnvAudience             = "OIDC_AUDIENCE"
	EnvSessionEncryptionKey = "OIDC_SESSION_ENCRYPTION_KEY"
)

// FromEnv fills the unset fields of opts from the environment. Values
// already present in opts always win.
func FromEnv(opts Options) Options {
	return applyEnv(opts, os.Getenv)
}

func applyEnv(opts Options, getenv func(string) string) Options {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&opts.IssuerURL, EnvIssuerURL)
	fill(&opts.ClientID, EnvClientID)
	fill(&opts.ClientSecret, EnvClientSecret)
	fill(&opts.BaseURL, EnvBaseURL)

	if aud := getenv(EnvAudience); aud != "" && opts.AuthorizationParams["audience"] == "" {
		params := maps.Clone(opts.AuthorizationParams)
		if params == nil {
			params = map[string]string{}
		}
		params["audience"] = aud
		opts.AuthorizationParams = params
	}

	if opts.Session.Enabled() {
		s := opts.Session.Options()
		if s.EncryptionKey == "" {
			s.EncryptionKey = getenv(EnvSessionEncryptionKey)
			opts.Session = SessionEnabled(s)
		}
	}
	return opts
}
