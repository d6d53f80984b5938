// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/oidc/clientassertion"
	sdkhttp "github.com/hashicorp/oidcrp/sdk/http"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/hashicorp/oidcrp/oidc"

// Client is a relying party's handle on a single discovered provider. It's
// safe for concurrent use.
//
// See Client.Done() which must be called to release the client's resources.
type Client struct {
	config     *Config
	provider   *oidc.Provider
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	assertion  *clientassertion.JWT
	logger     hclog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	createdAt  time.Time

	issuer        string
	endpoint      oauth2.Endpoint
	endSessionURL string
	parURL        string

	mu sync.Mutex

	// backgroundCtx is used for background activities like refreshing the
	// provider's JWKS.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// discoveryClaims are the optional provider metadata values that
// oidc.Provider doesn't expose directly.
type discoveryClaims struct {
	Issuer        string `json:"issuer"`
	JWKSURL       string `json:"jwks_uri"`
	EndSessionURL string `json:"end_session_endpoint"`
	PARURL        string `json:"pushed_authorization_request_endpoint"`
}

// Discover creates and initializes a Client by requesting the issuer's
// discovery document.
//
// Supported options: WithLogger, WithNow, WithTracerProvider
func Discover(ctx context.Context, c *Config, opt ...Option) (*Client, error) {
	const op = "oidc.Discover"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getClientOpts(opt...)

	ctx, span := opts.withTracerProvider.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(attribute.String("oidc.issuer", c.Issuer)))
	defer span.End()

	bgCtx, cancel := context.WithCancel(context.Background())
	// initializing the Client with its background ctx/cancel allows us to use
	// Done() to release resources when returning errors from this function.
	cl := &Client{
		config:              c,
		logger:              opts.withLogger,
		tracer:              opts.withTracerProvider.Tracer(tracerName),
		now:                 opts.withNow,
		backgroundCtx:       bgCtx,
		backgroundCtxCancel: cancel,
	}
	cl.createdAt = cl.now()

	httpClient, err := c.HTTPClient()
	if err != nil {
		cl.Done()
		return nil, recordErr(span, fmt.Errorf("%s: unable to create http client: %w", op, err))
	}
	cl.httpClient = httpClient

	dctx, dcancel := context.WithTimeout(ctx, c.HTTPTimeout)
	defer dcancel()
	provider, err := oidc.NewProvider(sdkhttp.ClientContext(dctx, httpClient), c.Issuer)
	if err != nil {
		cl.Done()
		return nil, recordErr(span, fmt.Errorf("%s: unable to discover provider %q: %w: %w", op, c.Issuer, ErrDiscoveryFailed, err))
	}
	cl.provider = provider
	cl.endpoint = provider.Endpoint()

	var claims discoveryClaims
	if err := provider.Claims(&claims); err != nil {
		cl.Done()
		return nil, recordErr(span, fmt.Errorf("%s: unable to read provider metadata: %w: %w", op, ErrDiscoveryFailed, err))
	}
	cl.issuer = claims.Issuer
	cl.endSessionURL = claims.EndSessionURL
	cl.parURL = claims.PARURL

	remote := oidc.NewRemoteKeySet(sdkhttp.ClientContext(cl.backgroundCtx, httpClient), claims.JWKSURL)
	algs := make([]string, 0, len(c.SupportedSigningAlgs))
	for _, a := range c.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	tolerance := c.ClockTolerance
	cl.verifier = oidc.NewVerifier(cl.issuer, newKeySet(remote, c.ClientSecret, c.SupportedSigningAlgs), &oidc.Config{
		ClientID:             c.ClientID,
		SupportedSigningAlgs: algs,
		// the verifier has no configurable skew, so tolerance is applied by
		// shifting its clock back.
		Now: func() time.Time { return cl.now().Add(-tolerance) },
	})

	if err := cl.initAssertion(); err != nil {
		cl.Done()
		return nil, recordErr(span, fmt.Errorf("%s: %w", op, err))
	}

	cl.logger.Debug("discovered provider",
		"issuer", cl.issuer,
		"auth_method", c.AuthMethod,
		"par", cl.parURL != "",
		"end_session", cl.endSessionURL != "")
	return cl, nil
}

// initAssertion prepares the client assertion signer for the *_jwt client
// authentication methods.
func (c *Client) initAssertion() error {
	const op = "Client.initAssertion"
	audience := []string{c.issuer}
	if c.endpoint.TokenURL != "" && c.endpoint.TokenURL != c.issuer {
		audience = append(audience, c.endpoint.TokenURL)
	}
	var opts []clientassertion.Option
	if c.config.KeyID != "" {
		opts = append(opts, clientassertion.WithKeyID(c.config.KeyID))
	}
	opts = append(opts, clientassertion.WithNow(c.now))

	var err error
	switch c.config.AuthMethod {
	case ClientSecretJWT:
		alg := clientassertion.HS256
		if c.config.SigningAlg.IsHMAC() {
			alg = clientassertion.HSAlgorithm(c.config.SigningAlg)
		}
		c.assertion, err = clientassertion.NewJWTWithHMAC(c.config.ClientID, audience, alg, string(c.config.ClientSecret), opts...)
	case PrivateKeyJWT:
		signer, ok := c.config.SigningKey.(crypto.Signer)
		if !ok {
			return fmt.Errorf("%s: signing key %T is not a crypto.Signer: %w", op, c.config.SigningKey, ErrInvalidParameter)
		}
		alg := RS256
		if c.config.SigningAlg != "" {
			alg = c.config.SigningAlg
		}
		c.assertion, err = clientassertion.NewJWTWithKey(c.config.ClientID, audience, clientassertion.KeyAlgorithm(alg), signer, opts...)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrClientAuthFailed, err)
	}
	return nil
}

// Done with the client's background resources and must be called for every
// Client created
func (c *Client) Done() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backgroundCtxCancel != nil {
		c.backgroundCtxCancel()
		c.backgroundCtxCancel = nil
	}
}

// Config returns the client's configuration.
func (c *Client) Config() *Config { return c.config }

// Issuer returns the issuer published in the provider's discovery document.
func (c *Client) Issuer() string { return c.issuer }

// CreatedAt returns when the client was discovered.
func (c *Client) CreatedAt() time.Time { return c.createdAt }

// SupportsPAR reports whether the provider publishes a pushed authorization
// request endpoint.
func (c *Client) SupportsPAR() bool { return c.parURL != "" }

// SupportsEndSession reports whether the provider publishes an end session
// endpoint.
func (c *Client) SupportsEndSession() bool { return c.endSessionURL != "" }

// oauth2Config returns an oauth2.Config for the client authentication method.
// The *_jwt and none methods send client_id in the request body and no
// secret, the assertion is added by tokenTransport.
func (c *Client) oauth2Config(redirectURL string) *oauth2.Config {
	ep := c.endpoint
	secret := ""
	switch c.config.AuthMethod {
	case ClientSecretBasic:
		ep.AuthStyle = oauth2.AuthStyleInHeader
		secret = string(c.config.ClientSecret)
	case ClientSecretPost:
		ep.AuthStyle = oauth2.AuthStyleInParams
		secret = string(c.config.ClientSecret)
	default:
		ep.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: secret,
		Endpoint:     ep,
		RedirectURL:  redirectURL,
		Scopes:       c.config.Scopes,
	}
}

// requestContext bounds ctx by the configured HTTP timeout and attaches the
// provider http client.
func (c *Client) requestContext(ctx context.Context, client *http.Client) (context.Context, context.CancelFunc) {
	if client == nil {
		client = c.httpClient
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.HTTPTimeout)
	return sdkhttp.ClientContext(ctx, client), cancel
}

// verifyIDToken verifies the raw id_token's signature, issuer, audience and
// expiry. The nonce is only checked when one is expected.
func (c *Client) verifyIDToken(ctx context.Context, raw string, nonce string) (*oidc.IDToken, map[string]interface{}, error) {
	const op = "Client.verifyIDToken"
	if raw == "" {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	idt, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerificationFailed, err)
	}
	if nonce != "" && idt.Nonce != nonce {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	claims := map[string]interface{}{}
	if err := idt.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to read id_token claims: %w", op, err)
	}
	return idt, claims, nil
}

func containsResponseType(responseType, want string) bool {
	for _, t := range strings.Fields(responseType) {
		if t == want {
			return true
		}
	}
	return false
}

func recordErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// clientOptions is the set of available options for Client functions
type clientOptions struct {
	withLogger         hclog.Logger
	withNow            func() time.Time
	withTracerProvider trace.TracerProvider
}

// clientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:         hclog.NewNullLogger(),
		withNow:            time.Now,
		withTracerProvider: otel.GetTracerProvider(),
	}
}

// getClientOpts gets the client defaults and applies the opt overrides passed
// in
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
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
