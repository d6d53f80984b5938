// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// AfterCallbackFunc may inspect or replace the session built by a successful
// callback before it's stored. Returning an error fails the callback.
type AfterCallbackFunc func(r *http.Request, s *AuthenticatedSession) (*AuthenticatedSession, error)

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withLogger = l
		}
	}
}

// WithErrorHandler replaces DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withErrorHandler = h
		}
	}
}

// WithSessionStore provides the store used when the built-in session is
// enabled, instead of the one named by the session options.
func WithSessionStore(s session.Store) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withSessionStore = s
		}
	}
}

// WithClientCache provides the cache of discovered clients, the process
// wide oidc.DefaultClientCache by default.
func WithClientCache(c *oidc.ClientCache) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withClientCache = c
		}
	}
}

// WithAfterCallback provides an optional hook applied to every new session.
func WithAfterCallback(fn AfterCallbackFunc) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withAfterCallback = fn
		}
	}
}

// WithRegisterer registers the middleware's metrics. Metrics are collected
// but not registered by default.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withRegisterer = r
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*authOptions); ok {
			v.withNow = now
		}
	}
}

type authOptions struct {
	withLogger        hclog.Logger
	withErrorHandler  ErrorHandler
	withSessionStore  session.Store
	withClientCache   *oidc.ClientCache
	withAfterCallback AfterCallbackFunc
	withRegisterer    prometheus.Registerer
	withNow           func() time.Time
}

func authDefaults() authOptions {
	return authOptions{
		withLogger:       hclog.NewNullLogger(),
		withErrorHandler: DefaultErrorHandler,
		withNow:          time.Now,
	}
}

func getAuthOpts(opt ...Option) authOptions {
	opts := authDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withErrorHandler == nil {
		opts.withErrorHandler = DefaultErrorHandler
	}
	if opts.withClientCache == nil {
		opts.withClientCache = oidc.DefaultClientCache()
	}
	if opts.withNow == nil {
		opts.withNow = time.Now
	}
	return opts
}
