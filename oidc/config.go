// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/strutil"
	sdkhttp "github.com/hashicorp/oidcrp/sdk/http"
)

// ClientSecret is an oauth client secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// AuthMethod is a token endpoint client authentication method. See:
// https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
type AuthMethod string

const (
	ClientSecretBasic AuthMethod = "client_secret_basic"
	ClientSecretPost  AuthMethod = "client_secret_post"
	ClientSecretJWT   AuthMethod = "client_secret_jwt"
	PrivateKeyJWT     AuthMethod = "private_key_jwt"
	AuthMethodNone    AuthMethod = "none"
)

// UsesSecret reports whether the method authenticates with the client secret.
func (m AuthMethod) UsesSecret() bool {
	return strings.Contains(string(m), "client_secret")
}

// Valid reports whether m is a known method.
func (m AuthMethod) Valid() bool {
	switch m {
	case ClientSecretBasic, ClientSecretPost, ClientSecretJWT, PrivateKeyJWT, AuthMethodNone:
		return true
	}
	return false
}

const (
	// DefaultHTTPTimeout is used when a Config has no HTTPTimeout.
	DefaultHTTPTimeout = 5 * time.Second

	// DefaultClockTolerance is used when a Config has no ClockTolerance.
	DefaultClockTolerance = 60 * time.Second
)

// Config represents the configuration for an OIDC relying party client.
type Config struct {
	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret. It's optional for the
	// private_key_jwt and none authentication methods.
	ClientSecret ClientSecret

	// AuthMethod is how the client authenticates to the token and pushed
	// authorization request endpoints.
	AuthMethod AuthMethod

	// SigningKey and SigningAlg sign private_key_jwt client assertions.
	SigningKey crypto.PrivateKey
	SigningAlg Alg

	// KeyID is an optional "kid" header for client assertions.
	KeyID string

	// SupportedSigningAlgs is the list of algorithms accepted for id_tokens.
	SupportedSigningAlgs []Alg

	// RedirectURL is the callback URL registered with the provider.
	RedirectURL string

	// Scopes is a list of oidc scopes to request of the provider. The
	// required "openid" scope is always requested.
	Scopes []string

	// ClockTolerance is the allowed clock skew when verifying id_tokens.
	ClockTolerance time.Duration

	// HTTPTimeout bounds every request sent to the provider.
	HTTPTimeout time.Duration

	// UserAgent is sent with every request to the provider.
	UserAgent string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithScopes, WithProviderCA, WithAuthMethod,
// WithSigningKey, WithKeyID, WithClockTolerance, WithHTTPTimeout,
// WithUserAgent
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, supported []Alg, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		AuthMethod:           opts.withAuthMethod,
		SigningKey:           opts.withSigningKey,
		SigningAlg:           opts.withSigningAlg,
		KeyID:                opts.withKeyID,
		SupportedSigningAlgs: supported,
		RedirectURL:          redirectURL,
		Scopes:               scopesWithOpenID(opts.withScopes),
		ClockTolerance:       opts.withClockTolerance,
		HTTPTimeout:          opts.withHTTPTimeout,
		UserAgent:            opts.withUserAgent,
		ProviderCA:           opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer)
	}
	if !strutil.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s schema is not http or https: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if len(c.SupportedSigningAlgs) == 0 {
		return fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !a.Supported() {
			return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
		}
		if a.IsHMAC() && c.ClientSecret == "" {
			return fmt.Errorf("%s: client secret is required for %s id_tokens: %w", op, a, ErrInvalidParameter)
		}
	}
	if !c.AuthMethod.Valid() {
		return fmt.Errorf("%s: unsupported client authentication method %q: %w", op, c.AuthMethod, ErrInvalidParameter)
	}
	switch {
	case c.AuthMethod.UsesSecret() && c.ClientSecret == "":
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	case c.AuthMethod == PrivateKeyJWT && c.SigningKey == nil:
		return fmt.Errorf("%s: signing key is required for %s: %w", op, PrivateKeyJWT, ErrInvalidParameter)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%s: http timeout is negative: %w", op, ErrInvalidParameter)
	}
	if c.ProviderCA != "" {
		if _, err := sdkhttp.NewClient(c.ProviderCA); err != nil {
			return fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkhttp.NewClient(
		c.ProviderCA,
		sdkhttp.WithTimeout(c.HTTPTimeout),
		sdkhttp.WithUserAgent(c.UserAgent),
	)
	if err != nil {
		if errors.Is(err, sdkhttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

func scopesWithOpenID(scopes []string) []string {
	if strutil.StrListContains(scopes, "openid") {
		return scopes
	}
	return append([]string{"openid"}, scopes...)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes         []string
	withProviderCA     string
	withAuthMethod     AuthMethod
	withSigningKey     crypto.PrivateKey
	withSigningAlg     Alg
	withKeyID          string
	withClockTolerance time.Duration
	withHTTPTimeout    time.Duration
	withUserAgent      string
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withAuthMethod:     ClientSecretBasic,
		withClockTolerance: DefaultClockTolerance,
		withHTTPTimeout:    DefaultHTTPTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
