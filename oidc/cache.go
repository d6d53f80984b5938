// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultClientCacheSize is the number of clients kept by the default cache.
	DefaultClientCacheSize = 10
	// DefaultClientReleaseDelay is how long a client that left the cache
	// stays usable.
	DefaultClientReleaseDelay = time.Minute
)

// ClientCache is a bounded, process wide cache of discovered clients keyed by
// issuer and client id. Concurrent lookups of a missing key share a single
// discovery request. Clients leaving the cache, by eviction, expiry or
// Purge, are released with Done once the release delay passed.
type ClientCache struct {
	clients *lru.Cache[string, *Client]
	group   singleflight.Group
	opts    cacheOptions
}

// NewClientCache creates a ClientCache holding at most size clients.
//
// Supported options: WithMaxAge, WithReleaseDelay, WithLogger, WithNow,
// WithTracerProvider
func NewClientCache(size int, opt ...Option) (*ClientCache, error) {
	const op = "oidc.NewClientCache"
	opts := getCacheOpts(opt...)
	switch {
	case opts.withMaxAge < 0:
		return nil, fmt.Errorf("%s: max age is negative: %w", op, ErrInvalidParameter)
	case opts.withReleaseDelay < 0:
		return nil, fmt.Errorf("%s: release delay is negative: %w", op, ErrInvalidParameter)
	}
	clients, err := lru.NewWithEvict(size, func(key string, c *Client) {
		if opts.withReleaseDelay == 0 {
			opts.withLogger.Debug("releasing cached client", "key", key)
			c.Done()
			return
		}
		time.AfterFunc(opts.withReleaseDelay, func() {
			opts.withLogger.Debug("releasing cached client", "key", key)
			c.Done()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	return &ClientCache{clients: clients, opts: opts}, nil
}

var defaultClientCache = sync.OnceValue(func() *ClientCache {
	c, err := NewClientCache(DefaultClientCacheSize)
	if err != nil {
		panic(err)
	}
	return c
})

// DefaultClientCache returns the process wide cache.
func DefaultClientCache() *ClientCache { return defaultClientCache() }

func cacheKey(c *Config) string {
	return c.Issuer + ":" + c.ClientID
}

// Get returns the cached client for the config's issuer and client id,
// discovering it when it's missing or older than the cache's max age.
// Discovery failures are not cached.
//
// Supported options: WithMaxAge
func (cc *ClientCache) Get(ctx context.Context, c *Config, opt ...Option) (*Client, error) {
	const op = "ClientCache.Get"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	maxAge := cc.opts.withMaxAge
	if len(opt) > 0 {
		callOpts := cc.opts
		ApplyOpts(&callOpts, opt...)
		maxAge = callOpts.withMaxAge
	}
	key := cacheKey(c)
	if cl, ok := cc.fresh(key, maxAge); ok {
		return cl, nil
	}

	v, err, shared := cc.group.Do(key, func() (interface{}, error) {
		if cl, ok := cc.fresh(key, maxAge); ok {
			return cl, nil
		}
		// discovery is shared by every waiting caller, so it must outlive
		// the first caller's cancellation.
		cl, err := Discover(context.WithoutCancel(ctx), c,
			WithLogger(cc.opts.withLogger),
			WithNow(cc.opts.withNow),
			WithTracerProvider(cc.opts.withTracerProvider),
		)
		if err != nil {
			return nil, err
		}
		cc.clients.Add(key, cl)
		return cl, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cc.opts.withLogger.Trace("client lookup", "key", key, "shared", shared)
	return v.(*Client), nil
}

// fresh returns the cached client for key unless it's older than maxAge.
// Stale clients are removed.
func (cc *ClientCache) fresh(key string, maxAge time.Duration) (*Client, bool) {
	cl, ok := cc.clients.Get(key)
	if !ok {
		return nil, false
	}
	if maxAge > 0 && cc.opts.withNow().Sub(cl.CreatedAt()) >= maxAge {
		cc.clients.Remove(key)
		return nil, false
	}
	return cl, true
}

// Len returns the number of cached clients.
func (cc *ClientCache) Len() int { return cc.clients.Len() }

// Purge removes every cached client.
func (cc *ClientCache) Purge() { cc.clients.Purge() }

// cacheOptions is the set of available options for ClientCache functions
type cacheOptions struct {
	withMaxAge         time.Duration
	withReleaseDelay   time.Duration
	withLogger         hclog.Logger
	withNow            func() time.Time
	withTracerProvider trace.TracerProvider
}

// cacheDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func cacheDefaults() cacheOptions {
	return cacheOptions{
		withReleaseDelay:   DefaultClientReleaseDelay,
		withLogger:         hclog.NewNullLogger(),
		withNow:            time.Now,
		withTracerProvider: otel.GetTracerProvider(),
	}
}

// getCacheOpts gets the cache defaults and applies the opt overrides passed in
func getCacheOpts(opt ...Option) cacheOptions {
	opts := cacheDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withNow == nil {
		opts.withNow = time.Now
	}
	if opts.withTracerProvider == nil {
		opts.withTracerProvider = otel.GetTracerProvider()
	}
	return opts
}
