// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
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

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *storeOptions:
			v.withLogger = l
		case *middlewareOptions:
			v.withLogger = l
		}
	}
}

// WithKeyPrefix prefixes every key written by a server side store.
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok {
			v.withKeyPrefix = prefix
		}
	}
}

// WithMemorySize bounds the number of entries of a memory backend.
func WithMemorySize(n int) Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok {
			v.withMemorySize = n
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok {
			v.withNow = now
		}
	}
}

// WithBackend replaces the backend of a server side store.
func WithBackend(b Backend) Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok {
			v.withBackend = b
		}
	}
}

// DefaultMemorySize is the default number of entries of a memory backend.
const DefaultMemorySize = 10000

type storeOptions struct {
	withLogger     hclog.Logger
	withKeyPrefix  string
	withMemorySize int
	withNow        func() time.Time
	withBackend    Backend
}

func storeDefaults() storeOptions {
	return storeOptions{
		withLogger:     hclog.NewNullLogger(),
		withKeyPrefix:  "oidcrp:session:",
		withMemorySize: DefaultMemorySize,
		withNow:        time.Now,
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withNow == nil {
		opts.withNow = time.Now
	}
	return opts
}

type middlewareOptions struct {
	withLogger hclog.Logger
}

func middlewareDefaults() middlewareOptions {
	return middlewareOptions{withLogger: hclog.NewNullLogger()}
}

func getMiddlewareOpts(opt ...Option) middlewareOptions {
	opts := middlewareDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
