// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration for: TokenSet
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*tokenOptions); ok {
			o.withExpirySkew = d
		}
	}
}

// WithNow provides an optional func for determining the current time for:
// Client, ClientCache, TokenSet
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			v.withNow = now
		case *cacheOptions:
			v.withNow = now
		case *tokenOptions:
			v.withNow = now
		}
	}
}

// WithLogger provides an optional logger for: Client, ClientCache
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			v.withLogger = l
		case *cacheOptions:
			v.withLogger = l
		}
	}
}

// WithScopes provides an optional list of scopes for: Config. The required
// "openid" scope is always added.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert for: Config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithAuthMethod provides an optional token endpoint client authentication
// method for: Config. The default is client_secret_basic.
func WithAuthMethod(m AuthMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAuthMethod = m
		}
	}
}

// WithSigningKey provides the private key and algorithm used to sign
// private_key_jwt client assertions for: Config
func WithSigningKey(key crypto.PrivateKey, alg Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSigningKey = key
			o.withSigningAlg = alg
		}
	}
}

// WithKeyID provides an optional "kid" header for client assertions for:
// Config
func WithKeyID(kid string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withKeyID = kid
		}
	}
}

// WithClockTolerance provides an optional clock skew tolerance used when
// verifying id_tokens for: Config
func WithClockTolerance(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClockTolerance = d
		}
	}
}

// WithHTTPTimeout provides an optional timeout for every request sent to the
// provider for: Config
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHTTPTimeout = d
		}
	}
}

// WithUserAgent provides an optional User-Agent for requests sent to the
// provider for: Config
func WithUserAgent(ua string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUserAgent = ua
		}
	}
}

// WithMaxAge provides an optional age after which a cached Client is
// discovered again for: ClientCache. Zero disables expiry.
func WithMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withMaxAge = d
		}
	}
}

// WithReleaseDelay provides an optional delay between a Client leaving the
// cache and its release with Done for: ClientCache. Requests that got the
// Client before it left keep using it until then. Zero releases right away.
func WithReleaseDelay(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok {
			o.withReleaseDelay = d
		}
	}
}

// WithTracerProvider provides an optional OpenTelemetry tracer provider for:
// Client, ClientCache. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			v.withTracerProvider = tp
		case *cacheOptions:
			v.withTracerProvider = tp
		}
	}
}
