// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"
)

// Options are the raw, partially specified settings of the relying party.
// Zero values mean "unset" and are replaced by defaults in New. See FromEnv
// for the environment overrides.
type Options struct {
	// IssuerURL is the provider's issuer, used for discovery.
	IssuerURL string `yaml:"issuer_url" json:"issuer_url" validate:"required,url"`

	// BaseURL is the externally visible root URL of the application.
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	ClientID     string `yaml:"client_id" json:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" json:"client_secret,omitempty"`

	// ClientAuthMethod is derived when empty, see New.
	ClientAuthMethod string `yaml:"client_auth_method" json:"client_auth_method,omitempty" validate:"omitempty,oneof=client_secret_basic client_secret_post client_secret_jwt private_key_jwt none"`

	// ClientAssertionSigningKey is a PEM or JWK encoded private key used to
	// sign private_key_jwt client assertions.
	ClientAssertionSigningKey string `yaml:"client_assertion_signing_key" json:"client_assertion_signing_key,omitempty"`
	ClientAssertionSigningAlg string `yaml:"client_assertion_signing_alg" json:"client_assertion_signing_alg,omitempty" validate:"omitempty,oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA"`

	IDTokenSigningAlg string `yaml:"id_token_signing_alg" json:"id_token_signing_alg,omitempty"`

	ClockTolerance       time.Duration `yaml:"clock_tolerance" json:"clock_tolerance,omitempty"`
	HTTPTimeout          time.Duration `yaml:"http_timeout" json:"http_timeout,omitempty"`
	HTTPUserAgent        string        `yaml:"http_user_agent" json:"http_user_agent,omitempty"`
	DiscoveryCacheMaxAge time.Duration `yaml:"discovery_cache_max_age" json:"discovery_cache_max_age,omitempty"`

	// ProviderCA is an optional PEM encoded CA certificate trusted when
	// talking to the provider.
	ProviderCA string `yaml:"provider_ca" json:"provider_ca,omitempty"`

	Routes       Routes   `yaml:"routes" json:"routes"`
	CustomRoutes []string `yaml:"custom_routes" json:"custom_routes,omitempty" validate:"dive,oneof=login callback logout"`

	// AuthorizationParams are sent with every authorization request.
	// response_type, response_mode and scope are validated and defaulted.
	AuthorizationParams map[string]string `yaml:"authorization_params" json:"authorization_params,omitempty"`

	// ForwardAuthorizationParams lists the login request query parameters
	// copied into the authorization request.
	ForwardAuthorizationParams []string `yaml:"forward_authorization_params" json:"forward_authorization_params,omitempty"`

	// TokenEndpointParams are sent with code exchange and refresh requests.
	TokenEndpointParams map[string]string `yaml:"token_endpoint_params" json:"token_endpoint_params,omitempty"`

	// LogoutParams are added to the provider's end session URL.
	LogoutParams map[string]string `yaml:"logout_params" json:"logout_params,omitempty"`

	// AuthRequired defaults to true.
	AuthRequired                *bool `yaml:"auth_required" json:"auth_required,omitempty"`
	ErrorOnRequiredAuth         bool  `yaml:"error_on_required_auth" json:"error_on_required_auth,omitempty"`
	AttemptSilentLogin          bool  `yaml:"attempt_silent_login" json:"attempt_silent_login,omitempty"`
	IDPLogout                   bool  `yaml:"idp_logout" json:"idp_logout,omitempty"`
	PushedAuthorizationRequests bool  `yaml:"pushed_authorization_requests" json:"pushed_authorization_requests,omitempty"`

	// ExcludedClaims are removed from the id_token claims stored in the
	// session. Nil uses DefaultExcludedClaims.
	ExcludedClaims []string `yaml:"excluded_claims" json:"excluded_claims,omitempty"`

	Session Session `yaml:"session" json:"session"`

	// Debug is an optional hook called with every debug message.
	Debug func(msg string, args ...interface{}) `yaml:"-" json:"-"`
}

// Routes are the paths of the built-in handlers.
type Routes struct {
	Login    string `yaml:"login" json:"login,omitempty" validate:"omitempty,startswith=/"`
	Logout   string `yaml:"logout" json:"logout,omitempty" validate:"omitempty,startswith=/"`
	Callback string `yaml:"callback" json:"callback,omitempty" validate:"omitempty,startswith=/"`
}

// Session is either disabled or enabled with options. The zero value is an
// enabled session using the default options.
type Session struct {
	disabled bool
	options  SessionOptions
}

// SessionDisabled returns a disabled session. The host application must then
// provide its own session store.
func SessionDisabled() Session { return Session{disabled: true} }

// SessionEnabled returns an enabled session using opts.
func SessionEnabled(opts SessionOptions) Session { return Session{options: opts} }

// Enabled reports whether the built-in session is used.
func (s Session) Enabled() bool { return !s.disabled }

// Options returns the session options, the zero value when disabled.
func (s Session) Options() SessionOptions {
	if s.disabled {
		return SessionOptions{}
	}
	return s.options
}

// MarshalJSON encodes a disabled session as false.
func (s Session) MarshalJSON() ([]byte, error) {
	if s.disabled {
		return []byte("false"), nil
	}
	return json.Marshal(s.options)
}

// UnmarshalYAML accepts false, true or a mapping of SessionOptions.
func (s *Session) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*s = Session{}
		return nil
	}
	if value.Kind == yaml.ScalarNode {
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("session must be a boolean or a mapping: %w", err)
		}
		*s = Session{disabled: !enabled}
		return nil
	}
	var opts SessionOptions
	if err := value.Decode(&opts); err != nil {
		return err
	}
	*s = SessionEnabled(opts)
	return nil
}

// SessionStore names the built-in session store implementations.
type SessionStore string

const (
	// CookieSessionStore keeps the whole session in an encrypted cookie.
	CookieSessionStore SessionStore = "cookie"
	// MemorySessionStore keeps sessions in process memory.
	MemorySessionStore SessionStore = "memory"
	// RedisSessionStore keeps sessions in Redis.
	RedisSessionStore SessionStore = "redis"
)

// SessionOptions configure the built-in session.
type SessionOptions struct {
	// EncryptionKey protects the session cookie, at least 32 characters.
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key" validate:"required,min=32"`

	// ExpireAfter is the session lifetime, 24h by default.
	ExpireAfter time.Duration `yaml:"expire_after" json:"expire_after,omitempty"`

	CookieName string `yaml:"cookie_name" json:"cookie_name,omitempty"`

	// Store defaults to CookieSessionStore.
	Store    SessionStore `yaml:"store" json:"store,omitempty" validate:"omitempty,oneof=cookie memory redis"`
	RedisURL string       `yaml:"redis_url" json:"redis_url,omitempty" validate:"required_if=Store redis"`

	Cookie CookieOptions `yaml:"cookie" json:"cookie"`
}

// CookieOptions are the attributes of the session and silent login cookies.
type CookieOptions struct {
	Domain   string `yaml:"domain" json:"domain,omitempty"`
	Path     string `yaml:"path" json:"path,omitempty"`
	SameSite string `yaml:"same_site" json:"same_site,omitempty" validate:"omitempty,oneof=Lax Strict None"`
	HTTPOnly *bool  `yaml:"http_only" json:"http_only,omitempty"`

	// Secure is derived from the base URL's scheme when nil.
	Secure *bool `yaml:"secure" json:"secure,omitempty"`

	// MaxAge in seconds, zero for a browser session cookie.
	MaxAge int `yaml:"max_age" json:"max_age,omitempty" validate:"gte=0"`
}

// SameSiteMode converts SameSite to its net/http value.
func (c CookieOptions) SameSiteMode() http.SameSite {
	switch c.SameSite {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Cookie returns a cookie with these attributes.
func (c CookieOptions) Cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.Domain,
		Path:     c.Path,
		MaxAge:   c.MaxAge,
		SameSite: c.SameSiteMode(),
		HttpOnly: c.HTTPOnly != nil && *c.HTTPOnly,
		Secure:   c.Secure != nil && *c.Secure,
	}
}

// Bool returns a pointer to b, handy for the optional Options fields.
func Bool(b bool) *bool { return &b }
