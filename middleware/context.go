// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/hashicorp/oidcrp/config"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
)

// Session keys.
const (
	TransactionKey = "oidc_tx"
	SessionKey     = "oidc"
)

// AuthenticatedSession is stored under SessionKey once a login succeeded.
type AuthenticatedSession struct {
	Tokens oidc.TokenSet
	// RequestedAt is when the tokens were requested, in unix seconds.
	RequestedAt int64
	// Claims of the id_token without the configured excluded claims.
	Claims map[string]interface{}
}

// subject is the sub of the session's id_token, read from Claims unless the
// claim was excluded.
func (s *AuthenticatedSession) subject() string {
	if sub, ok := s.Claims["sub"].(string); ok {
		return sub
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if s.Tokens.IDToken == "" || s.Tokens.IDToken.Claims(&claims) != nil {
		return ""
	}
	return claims.Subject
}

// storedSession is the persisted form of an AuthenticatedSession. The token
// types redact themselves when marshaled, so they're stored as plain
// strings.
type storedSession struct {
	AccessToken  string                 `json:"access_token,omitempty"`
	TokenType    string                 `json:"token_type,omitempty"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	IDToken      string                 `json:"id_token,omitempty"`
	Scope        string                 `json:"scope,omitempty"`
	ExpiresIn    *int64                 `json:"expires_in,omitempty"`
	ExpiresAt    int64                  `json:"expires_at,omitempty"`
	RequestedAt  int64                  `json:"requested_at"`
	Claims       map[string]interface{} `json:"claims,omitempty"`
}

// MarshalJSON encodes the session with its token values.
func (s AuthenticatedSession) MarshalJSON() ([]byte, error) {
	st := storedSession{
		AccessToken:  string(s.Tokens.AccessToken),
		TokenType:    s.Tokens.TokenType,
		RefreshToken: string(s.Tokens.RefreshToken),
		IDToken:      string(s.Tokens.IDToken),
		Scope:        s.Tokens.Scope,
		ExpiresIn:    s.Tokens.ExpiresIn,
		RequestedAt:  s.RequestedAt,
		Claims:       s.Claims,
	}
	if !s.Tokens.Expiry.IsZero() {
		st.ExpiresAt = s.Tokens.Expiry.Unix()
	}
	return json.Marshal(st)
}

// UnmarshalJSON decodes a session encoded by MarshalJSON.
func (s *AuthenticatedSession) UnmarshalJSON(b []byte) error {
	var st storedSession
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	*s = AuthenticatedSession{
		Tokens: oidc.TokenSet{
			AccessToken:  oidc.AccessToken(st.AccessToken),
			TokenType:    st.TokenType,
			RefreshToken: oidc.RefreshToken(st.RefreshToken),
			IDToken:      oidc.IDToken(st.IDToken),
			Scope:        st.Scope,
			ExpiresIn:    st.ExpiresIn,
		},
		RequestedAt: st.RequestedAt,
		Claims:      st.Claims,
	}
	if st.ExpiresAt != 0 {
		s.Tokens.Expiry = time.Unix(st.ExpiresAt, 0)
	}
	return nil
}

// filterClaims returns a copy of claims without the excluded ones.
func filterClaims(claims map[string]interface{}, excluded []string) map[string]interface{} {
	if claims == nil {
		return nil
	}
	filtered := maps.Clone(claims)
	for _, c := range excluded {
		delete(filtered, c)
	}
	return filtered
}

// requestState is what Auth installs for the handlers of a request.
type requestState struct {
	cfg     *config.Config
	client  *oidc.Client
	session session.Session
	auth    *authenticator
	authCtx *AuthContext
}

type stateKey struct{}

func withState(ctx context.Context, st *requestState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

func stateFrom(ctx context.Context) (*requestState, bool) {
	st, ok := ctx.Value(stateKey{}).(*requestState)
	return st, ok && st != nil
}

// errorHandler reports err with the installed ErrorHandler, or with
// DefaultErrorHandler when Auth isn't installed.
func errorHandler(r *http.Request) ErrorHandler {
	if st, ok := stateFrom(r.Context()); ok {
		return st.auth.opts.withErrorHandler
	}
	return DefaultErrorHandler
}

func notInstalled() *Error {
	return &Error{
		Status:      http.StatusInternalServerError,
		Code:        CodeServerError,
		Description: "Auth middleware is not installed",
		Err:         ErrNotInstalled,
	}
}

// AuthContext is the authentication state of a request. It's installed by
// Auth and returned by FromContext.
type AuthContext struct {
	mu    sync.Mutex
	state *requestState
	sess  *AuthenticatedSession
}

// FromContext returns the request's AuthContext.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	st, ok := stateFrom(ctx)
	if !ok || st.authCtx == nil {
		return nil, false
	}
	return st.authCtx, true
}

// loadAuthContext reads the AuthenticatedSession of the request's session.
func loadAuthContext(ctx context.Context, st *requestState) *AuthContext {
	ac := &AuthContext{state: st}
	var s AuthenticatedSession
	found, err := st.session.Get(ctx, SessionKey, &s)
	switch {
	case err != nil:
		// an unreadable session is treated as logged out
		st.auth.logger.Warn("discarding unreadable authenticated session", "error", err)
	case found:
		ac.sess = &s
	}
	return ac
}

func (a *AuthContext) set(s *AuthenticatedSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sess = s
}

func (a *AuthContext) get() *AuthenticatedSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

// IsAuthenticated reports whether the request has an authenticated session.
func (a *AuthContext) IsAuthenticated() bool {
	return a != nil && a.get() != nil
}

// Claims returns the stored id_token claims, nil when not authenticated.
func (a *AuthContext) Claims() map[string]interface{} {
	if a == nil {
		return nil
	}
	s := a.get()
	if s == nil {
		return nil
	}
	return s.Claims
}

// Tokens returns the stored token set, nil when not authenticated.
func (a *AuthContext) Tokens() *oidc.TokenSet {
	if a == nil {
		return nil
	}
	s := a.get()
	if s == nil {
		return nil
	}
	tokens := s.Tokens
	return &tokens
}

// RequestedAt returns when the tokens were requested, the zero time when not
// authenticated.
func (a *AuthContext) RequestedAt() time.Time {
	if a == nil {
		return time.Time{}
	}
	s := a.get()
	if s == nil {
		return time.Time{}
	}
	return time.Unix(s.RequestedAt, 0)
}

// IsExpired reports whether the access token's lifetime has passed. Tokens
// without a reported lifetime never expire.
func (a *AuthContext) IsExpired() bool {
	if a == nil {
		return false
	}
	s := a.get()
	if s == nil || s.Tokens.ExpiresIn == nil {
		return false
	}
	return s.RequestedAt+*s.Tokens.ExpiresIn < a.state.auth.opts.withNow().Unix()
}

// Refresh uses the stored refresh token to get new tokens. The returned set
// is merged over the stored one, persisted and visible to the rest of the
// request. params are added to the configured token endpoint params.
//
// Without a refresh token Refresh does nothing and returns nil, nil.
func (a *AuthContext) Refresh(ctx context.Context, params map[string]string) (*oidc.TokenSet, error) {
	const op = "AuthContext.Refresh"
	if a == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotInstalled)
	}
	current := a.get()
	if current == nil || current.Tokens.RefreshToken == "" {
		return nil, nil
	}
	st := a.state
	requestedAt := st.auth.opts.withNow().Unix()
	merged := maps.Clone(st.cfg.TokenEndpointParams)
	if merged == nil {
		merged = map[string]string{}
	}
	maps.Copy(merged, params)

	result, err := st.client.Refresh(ctx, current.Tokens.RefreshToken, merged)
	if err != nil {
		st.auth.metrics.refreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	refreshed := &AuthenticatedSession{
		Tokens:      *current.Tokens.Merge(result.Tokens),
		RequestedAt: requestedAt,
		Claims:      current.Claims,
	}
	if result.Claims != nil {
		sub, _ := result.Claims["sub"].(string)
		if sub != current.subject() {
			st.auth.metrics.refreshes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%s: %w", op, ErrSubjectChanged)
		}
		refreshed.Claims = filterClaims(result.Claims, st.cfg.ExcludedClaims)
	}
	if err := st.session.Set(ctx, SessionKey, refreshed); err != nil {
		return nil, fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	a.set(refreshed)
	st.auth.metrics.refreshes.WithLabelValues("success").Inc()
	st.auth.debug("refreshed tokens", "id_token", result.Tokens.IDToken != "")
	tokens := refreshed.Tokens
	return &tokens, nil
}

// FetchUserInfo gets the user's claims from the provider's userinfo
// endpoint. It returns nil, nil unless the subject is known and the granted
// scope includes openid and profile.
func (a *AuthContext) FetchUserInfo(ctx context.Context) (map[string]interface{}, error) {
	const op = "AuthContext.FetchUserInfo"
	if a == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotInstalled)
	}
	s := a.get()
	if s == nil {
		return nil, nil
	}
	sub, _ := s.Claims["sub"].(string)
	scopes := strings.Fields(s.Tokens.Scope)
	if sub == "" || !strutil.StrListContains(scopes, "openid") || !strutil.StrListContains(scopes, "profile") {
		return nil, nil
	}
	info, err := a.state.client.UserInfo(ctx, s.Tokens.AccessToken, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return info, nil
}
