// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package http builds the outbound HTTP clients used to talk to an OIDC
// provider.
package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

var ErrInvalidCertificatePem = errors.New("invalid certificate PEM")

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// NewClient creates a new http client which will use the optional CA
// certificate PEM if provided, otherwise it will use the installed system CA
// chain.
//
// Supported options: WithTimeout, WithUserAgent
func NewClient(caPEM string, opt ...Option) (*http.Client, error) {
	const op = "http.NewClient"
	opts := getClientOpts(opt...)
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCertificatePem)
		}

		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	var rt http.RoundTripper = tr
	if opts.withUserAgent != "" {
		rt = &userAgentTransport{next: tr, userAgent: opts.withUserAgent}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   opts.withTimeout,
	}, nil
}

// ClientContext returns a new Context that carries the provided HTTP client.
// The context key is shared by github.com/coreos/go-oidc and
// golang.org/x/oauth2, so the returned context works for both packages.
func ClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(r)
}

type clientOptions struct {
	withTimeout   time.Duration
	withUserAgent string
}

func clientDefaults() clientOptions {
	return clientOptions{}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTimeout provides an optional overall timeout for requests made by the
// client. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithUserAgent provides an optional User-Agent header for every request made
// by the client.
func WithUserAgent(ua string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withUserAgent = ua
		}
	}
}
