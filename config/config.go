// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/oidc/clientassertion"
)

const (
	DefaultScope                = "openid profile email"
	DefaultResponseType         = "code"
	DefaultClockTolerance       = 60 * time.Second
	DefaultHTTPTimeout          = 5 * time.Second
	MinHTTPTimeout              = 500 * time.Millisecond
	DefaultIDTokenSigningAlg    = oidc.RS256
	DefaultDiscoveryCacheMaxAge = 10 * time.Minute
	DefaultHTTPUserAgent        = "oidcrp"
	DefaultSessionExpiry        = 24 * time.Hour
	DefaultSessionCookieName    = "appSession"
	DefaultLoginRoute           = "/login"
	DefaultLogoutRoute          = "/logout"
	DefaultCallbackRoute        = "/callback"
	MinEncryptionKeyLength      = 32
)

// DefaultExcludedClaims are the protocol claims not kept in the session.
var DefaultExcludedClaims = []string{
	"aud", "iss", "iat", "exp", "nbf", "nonce", "azp", "auth_time", "s_hash", "at_hash", "c_hash",
}

// Config is the validated, fully defaulted configuration. It's shared
// between requests and must not be modified.
type Config struct {
	IssuerURL string
	BaseURL   string

	ClientID     string
	ClientSecret oidc.ClientSecret

	ClientAuthMethod          oidc.AuthMethod
	ClientAssertionSigningKey crypto.Signer
	ClientAssertionSigningAlg oidc.Alg
	IDTokenSigningAlg         oidc.Alg

	ClockTolerance       time.Duration
	HTTPTimeout          time.Duration
	HTTPUserAgent        string
	DiscoveryCacheMaxAge time.Duration
	ProviderCA           string

	Routes       Routes
	CustomRoutes []string

	// AuthorizationParams always has response_type and scope, and
	// response_mode for the flows returning an id_token.
	AuthorizationParams        map[string]string
	ForwardAuthorizationParams []string
	TokenEndpointParams        map[string]string
	LogoutParams               map[string]string

	AuthRequired                bool
	ErrorOnRequiredAuth         bool
	AttemptSilentLogin          bool
	IDPLogout                   bool
	PushedAuthorizationRequests bool

	ExcludedClaims []string

	// Session options are defaulted when enabled. Cookie.Secure and
	// Cookie.HTTPOnly are never nil.
	Session Session

	Debug func(msg string, args ...interface{})

	baseURL *url.URL
}

var cache = struct {
	sync.Mutex
	configs map[[sha256.Size]byte]*Config
}{configs: map[[sha256.Size]byte]*Config{}}

// New validates opts and returns the resulting Config. Every violated
// constraint is reported by the returned *ValidationError.
//
// Results are cached by the content of opts, so an equivalent Options value
// isn't validated again. Function valued fields like Debug are not part of
// the cache key, every call gets its own Config carrying its own Debug.
func New(opts Options) (*Config, error) {
	const op = "config.New"
	key, err := cacheKey(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cache.Lock()
	core, ok := cache.configs[key]
	cache.Unlock()
	if !ok {
		opts := opts
		opts.Debug = nil
		built, err := build(opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		cache.Lock()
		// another goroutine may have won the race
		if core, ok = cache.configs[key]; !ok {
			core = built
			cache.configs[key] = core
		}
		cache.Unlock()
	}
	c := *core
	c.Debug = opts.Debug
	return &c, nil
}

// Validate reports every constraint violated by opts without caching the
// result.
func Validate(opts Options) error {
	_, err := build(opts)
	return err
}

// cacheKey is the sha256 of the canonical json encoding of opts. encoding/json
// sorts map keys, so equal content encodes identically.
func cacheKey(opts Options) ([sha256.Size]byte, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("unable to encode options: %w", err)
	}
	return sha256.Sum256(b), nil
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

// checkStruct runs the struct tag checks and records a violation per field.
func checkStruct(v *violations, prefix string, s interface{}) {
	err := validate().Struct(s)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.add(prefix, "%s", err.Error())
		return
	}
	for _, fe := range verrs {
		// the namespace starts with the struct's type name
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if prefix != "" {
			field = prefix + "." + field
		}
		v.add(field, "%s", tagMessage(fe))
	}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", " is ", 1))
	case "url":
		return fmt.Sprintf("%q is not an absolute URL", fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("%q must be one of [%s]", fe.Value(), fe.Param())
	case "startswith":
		return fmt.Sprintf("%q must start with %q", fe.Value(), fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}

// build applies the defaults and the cross field rules. The returned Config
// shares nothing mutable with opts.
func build(opts Options) (*Config, error) {
	var v violations
	checkStruct(&v, "", opts)

	c := &Config{
		IssuerURL:                   opts.IssuerURL,
		BaseURL:                     opts.BaseURL,
		ClientID:                    opts.ClientID,
		ClientSecret:                oidc.ClientSecret(opts.ClientSecret),
		ClientAuthMethod:            oidc.AuthMethod(opts.ClientAuthMethod),
		ClientAssertionSigningAlg:   oidc.Alg(opts.ClientAssertionSigningAlg),
		IDTokenSigningAlg:           oidc.Alg(opts.IDTokenSigningAlg),
		ClockTolerance:              opts.ClockTolerance,
		HTTPTimeout:                 opts.HTTPTimeout,
		HTTPUserAgent:               opts.HTTPUserAgent,
		DiscoveryCacheMaxAge:        opts.DiscoveryCacheMaxAge,
		ProviderCA:                  opts.ProviderCA,
		Routes:                      opts.Routes,
		CustomRoutes:                slices.Clone(opts.CustomRoutes),
		AuthorizationParams:         maps.Clone(opts.AuthorizationParams),
		ForwardAuthorizationParams:  slices.Clone(opts.ForwardAuthorizationParams),
		TokenEndpointParams:         maps.Clone(opts.TokenEndpointParams),
		LogoutParams:                maps.Clone(opts.LogoutParams),
		AuthRequired:                opts.AuthRequired == nil || *opts.AuthRequired,
		ErrorOnRequiredAuth:         opts.ErrorOnRequiredAuth,
		AttemptSilentLogin:          opts.AttemptSilentLogin,
		IDPLogout:                   opts.IDPLogout,
		PushedAuthorizationRequests: opts.PushedAuthorizationRequests,
		ExcludedClaims:              slices.Clone(opts.ExcludedClaims),
		Session:                     opts.Session,
		Debug:                       opts.Debug,
	}
	c.applyDefaults()

	// absolute http(s) URLs
	for _, f := range []struct {
		name  string
		value string
		dst   **url.URL
	}{
		{name: "issuer_url", value: c.IssuerURL},
		{name: "base_url", value: c.BaseURL, dst: &c.baseURL},
	} {
		if v.has(f.name) {
			continue
		}
		u, err := url.Parse(f.value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.add(f.name, "%q must be an absolute http or https URL", f.value)
			continue
		}
		if f.dst != nil {
			*f.dst = u
		}
	}
	https := c.baseURL != nil && c.baseURL.Scheme == "https"

	if c.Session.Enabled() {
		c.Session = SessionEnabled(c.sessionDefaults(&v, https))
	}

	// response_type, response_mode and scope
	responseType := c.AuthorizationParams["response_type"]
	if !strutil.StrListContains([]string{"code", "id_token", "code id_token"}, responseType) {
		v.add("authorization_params.response_type", "%q must be one of \"code\", \"id_token\" or \"code id_token\"", responseType)
	}
	if !strutil.StrListContains(strings.Fields(c.AuthorizationParams["scope"]), "openid") {
		v.add("authorization_params.scope", "%q must contain openid", c.AuthorizationParams["scope"])
	}
	responseMode := c.AuthorizationParams["response_mode"]
	switch {
	case responseType == "code":
		if responseMode != "" && responseMode != "query" && responseMode != "form_post" {
			v.add("authorization_params.response_mode", "%q must be query or form_post for response_type code", responseMode)
		}
	case responseMode == "":
		c.AuthorizationParams["response_mode"] = "form_post"
	case responseMode != "form_post":
		v.add("authorization_params.response_mode", "%q must be form_post for response_type %q", responseMode, responseType)
	}
	if c.AuthorizationParams["response_mode"] == "form_post" && c.baseURL != nil && !https {
		v.add("base_url", "form_post responses can't be delivered to an http base URL")
	}

	// signing algorithms
	if strings.EqualFold(string(c.IDTokenSigningAlg), "none") {
		v.add("id_token_signing_alg", "signing algorithm cannot be none")
	} else if !c.IDTokenSigningAlg.Supported() {
		v.add("id_token_signing_alg", "%q is not a supported signing algorithm", c.IDTokenSigningAlg)
	}
	if opts.ClientAssertionSigningKey != "" {
		key, err := clientassertion.ParsePrivateKey(opts.ClientAssertionSigningKey)
		if err != nil {
			v.add("client_assertion_signing_key", "unable to parse key: %s", err)
		} else {
			c.ClientAssertionSigningKey = key
		}
	}

	// client authentication
	if c.ClientAuthMethod == "" {
		switch {
		case responseType == "id_token" && !c.PushedAuthorizationRequests:
			c.ClientAuthMethod = oidc.AuthMethodNone
		case opts.ClientAssertionSigningKey != "":
			c.ClientAuthMethod = oidc.PrivateKeyJWT
		default:
			c.ClientAuthMethod = oidc.ClientSecretBasic
		}
	}
	if c.ClientAuthMethod.UsesSecret() && c.ClientSecret == "" {
		v.add("client_secret", "is required for the client_auth_method %q", c.ClientAuthMethod)
	} else if c.IDTokenSigningAlg.IsHMAC() && c.ClientSecret == "" {
		v.add("client_secret", "is required for id_tokens signed with %s", c.IDTokenSigningAlg)
	}
	if c.ClientAuthMethod == oidc.ClientSecretJWT && c.ClientSecret != "" {
		if err := clientassertion.HS256.Validate(string(c.ClientSecret)); err != nil {
			v.add("client_secret", "is too short to sign client_secret_jwt assertions")
		}
	}
	if c.ClientAuthMethod == oidc.AuthMethodNone {
		if strings.Contains(responseType, "code") {
			v.add("client_auth_method", "Public code flow clients are not supported.")
		}
		if c.PushedAuthorizationRequests {
			v.add("client_auth_method", "Public PAR clients are not supported.")
		}
	}
	if c.ClientAuthMethod == oidc.PrivateKeyJWT {
		switch {
		case opts.ClientAssertionSigningKey == "":
			v.add("client_assertion_signing_key", "is required for the client_auth_method %q", oidc.PrivateKeyJWT)
		case c.ClientAssertionSigningKey != nil:
			if c.ClientAssertionSigningAlg == "" {
				c.ClientAssertionSigningAlg = algForKey(c.ClientAssertionSigningKey)
			}
			if err := clientassertion.KeyAlgorithm(c.ClientAssertionSigningAlg).Validate(c.ClientAssertionSigningKey); err != nil && !v.has("client_assertion_signing_alg") {
				v.add("client_assertion_signing_alg", "%s", err)
			}
		}
	}

	// durations
	if c.ClockTolerance < 0 {
		v.add("clock_tolerance", "must not be negative")
	}
	if c.HTTPTimeout < MinHTTPTimeout {
		v.add("http_timeout", "%s is below the minimum of %s", c.HTTPTimeout, MinHTTPTimeout)
	}
	if c.DiscoveryCacheMaxAge < 0 {
		v.add("discovery_cache_max_age", "must not be negative")
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.AuthorizationParams == nil {
		c.AuthorizationParams = map[string]string{}
	}
	if c.AuthorizationParams["response_type"] == "" {
		c.AuthorizationParams["response_type"] = DefaultResponseType
	}
	if c.AuthorizationParams["scope"] == "" {
		c.AuthorizationParams["scope"] = DefaultScope
	}
	if c.IDTokenSigningAlg == "" {
		c.IDTokenSigningAlg = DefaultIDTokenSigningAlg
	}
	if c.ClockTolerance == 0 {
		c.ClockTolerance = DefaultClockTolerance
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.HTTPUserAgent == "" {
		c.HTTPUserAgent = DefaultHTTPUserAgent
	}
	if c.DiscoveryCacheMaxAge == 0 {
		c.DiscoveryCacheMaxAge = DefaultDiscoveryCacheMaxAge
	}
	if c.Routes.Login == "" {
		c.Routes.Login = DefaultLoginRoute
	}
	if c.Routes.Logout == "" {
		c.Routes.Logout = DefaultLogoutRoute
	}
	if c.Routes.Callback == "" {
		c.Routes.Callback = DefaultCallbackRoute
	}
	if c.ExcludedClaims == nil {
		c.ExcludedClaims = append([]string(nil), DefaultExcludedClaims...)
	}
}

// sessionDefaults validates and defaults the enabled session's options.
func (c *Config) sessionDefaults(v *violations, https bool) SessionOptions {
	s := c.Session.Options()
	checkStruct(v, "session", s)
	if s.ExpireAfter < 0 {
		v.add("session.expire_after", "must not be negative")
	}
	if s.ExpireAfter == 0 {
		s.ExpireAfter = DefaultSessionExpiry
	}
	if s.CookieName == "" {
		s.CookieName = DefaultSessionCookieName
	}
	if s.Store == "" {
		s.Store = CookieSessionStore
	}
	if s.Cookie.SameSite == "" {
		s.Cookie.SameSite = "Lax"
	}
	if s.Cookie.Path == "" {
		s.Cookie.Path = "/"
	}
	if s.Cookie.HTTPOnly == nil {
		s.Cookie.HTTPOnly = Bool(true)
	} else {
		s.Cookie.HTTPOnly = Bool(*s.Cookie.HTTPOnly)
	}
	switch {
	case c.baseURL == nil:
		// base_url already failed
	case s.Cookie.Secure == nil:
		s.Cookie.Secure = Bool(https)
	case https && !*s.Cookie.Secure:
		v.add("session.cookie.secure", "insecure cookies are not allowed with an https base URL")
	case !https && *s.Cookie.Secure:
		v.add("session.cookie.secure", "secure cookies won't be sent with http requests")
	default:
		s.Cookie.Secure = Bool(*s.Cookie.Secure)
	}
	return s
}

// algForKey picks the client assertion alg matching the key type.
func algForKey(key crypto.Signer) oidc.Alg {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P384():
			return oidc.ES384
		case elliptic.P521():
			return oidc.ES512
		default:
			return oidc.ES256
		}
	case ed25519.PrivateKey:
		return oidc.EdDSA
	case *rsa.PrivateKey:
		return oidc.RS256
	default:
		return oidc.RS256
	}
}

// ResponseType returns the configured response_type.
func (c *Config) ResponseType() string { return c.AuthorizationParams["response_type"] }

// UsesPKCE reports whether logins use the authorization code flow and so
// send a PKCE code challenge.
func (c *Config) UsesPKCE() bool {
	return strutil.StrListContains(strings.Fields(c.ResponseType()), "code")
}

// URL resolves path against the base URL. Absolute URLs are returned as is.
func (c *Config) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil || ref.IsAbs() {
		return path
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// RedirectURL is the absolute callback URL registered with the provider.
func (c *Config) RedirectURL() string { return c.URL(c.Routes.Callback) }

// BaseHost returns the base URL's hostname.
func (c *Config) BaseHost() string { return c.baseURL.Hostname() }

// IsCustomRoute reports whether the host application handles the named
// route ("login", "callback" or "logout") itself.
func (c *Config) IsCustomRoute(name string) bool {
	return strutil.StrListContains(c.CustomRoutes, name)
}

// CookieOptions returns the session's cookie options or, when the session
// is disabled, SameSite=Lax; Path=/; HttpOnly.
func (c *Config) CookieOptions() CookieOptions {
	if c.Session.Enabled() {
		return c.Session.Options().Cookie
	}
	return CookieOptions{SameSite: "Lax", Path: "/", HTTPOnly: Bool(true), Secure: Bool(false)}
}

// DebugLog calls the Debug hook when one is configured.
func (c *Config) DebugLog(msg string, args ...interface{}) {
	if c.Debug != nil {
		c.Debug(msg, args...)
	}
}

// ClientConfig returns the provider client configuration.
func (c *Config) ClientConfig() (*oidc.Config, error) {
	const op = "Config.ClientConfig"
	opts := []oidc.Option{
		oidc.WithScopes(strings.Fields(c.AuthorizationParams["scope"])...),
		oidc.WithAuthMethod(c.ClientAuthMethod),
		oidc.WithClockTolerance(c.ClockTolerance),
		oidc.WithHTTPTimeout(c.HTTPTimeout),
		oidc.WithUserAgent(c.HTTPUserAgent),
		oidc.WithProviderCA(c.ProviderCA),
	}
	if c.ClientAssertionSigningKey != nil {
		opts = append(opts, oidc.WithSigningKey(c.ClientAssertionSigningKey, c.ClientAssertionSigningAlg))
	}
	oc, err := oidc.NewConfig(c.IssuerURL, c.ClientID, c.ClientSecret, []oidc.Alg{c.IDTokenSigningAlg}, c.RedirectURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}
