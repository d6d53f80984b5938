// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/config"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
)

type authenticator struct {
	cfg          *config.Config
	clientConfig *oidc.Config
	opts         authOptions
	logger       hclog.Logger
	metrics      *metrics
	sessions     func(http.Handler) http.Handler
}

// Auth returns the relying party middleware for cfg. For every request it
// looks up the provider client, installs the AuthContext, serves the
// login, callback and logout routes that aren't custom routes, attempts a
// silent login when configured and sends unauthenticated requests to login
// when AuthRequired is set.
//
// When cfg.Session is enabled the returned middleware includes the session
// middleware, otherwise a session.Middleware must run before it.
//
// Supported options: WithLogger, WithErrorHandler, WithSessionStore,
// WithClientCache, WithAfterCallback, WithRegisterer, WithNow
func Auth(cfg *config.Config, opt ...Option) (func(http.Handler) http.Handler, error) {
	const op = "middleware.Auth"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := getAuthOpts(opt...)
	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	m, err := newMetrics(opts.withRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
	}
	a := &authenticator{
		cfg:          cfg,
		clientConfig: clientConfig,
		opts:         opts,
		logger:       opts.withLogger.Named("oidcrp"),
		metrics:      m,
	}

	if cfg.Session.Enabled() {
		store := opts.withSessionStore
		if store == nil {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
			defer cancel()
			store, err = session.NewStore(ctx, cfg.Session.Options(), session.WithLogger(a.logger.Named("session")))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		a.sessions = session.Middleware(store, session.WithLogger(a.logger.Named("session")))
	}

	return func(next http.Handler) http.Handler {
		h := a.handler(next)
		if a.sessions != nil {
			h = a.sessions(h)
		}
		return h
	}, nil
}

func (a *authenticator) debug(msg string, args ...interface{}) {
	a.logger.Debug(msg, args...)
	a.cfg.DebugLog(msg, args...)
}

func (a *authenticator) handler(next http.Handler) http.Handler {
	silent := AttemptSilentLogin()(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := a.opts.withClientCache.Get(r.Context(), a.clientConfig, oidc.WithMaxAge(a.cfg.DiscoveryCacheMaxAge))
		if err != nil {
			a.logger.Error("unable to discover provider", "issuer", a.cfg.IssuerURL, "error", err)
			a.opts.withErrorHandler(w, r, &Error{
				Status:      http.StatusInternalServerError,
				Code:        CodeServerError,
				Description: "Unable to reach the identity provider",
				Err:         err,
			})
			return
		}
		sess, ok := session.FromContext(r.Context())
		if !ok {
			a.logger.Error("no session found for request, install session.Middleware before Auth or enable the session")
			a.opts.withErrorHandler(w, r, sessionUnavailable(ErrSessionUnavailable))
			return
		}
		st := &requestState{cfg: a.cfg, client: client, session: sess, auth: a}
		st.authCtx = loadAuthContext(r.Context(), st)
		r = r.WithContext(withState(r.Context(), st))

		routes := a.cfg.Routes
		switch {
		case r.URL.Path == routes.Login && !a.cfg.IsCustomRoute("login"):
			Login(LoginParams{}).ServeHTTP(w, r)
			return
		case r.URL.Path == routes.Callback && !a.cfg.IsCustomRoute("callback"):
			Callback(CallbackParams{}).ServeHTTP(w, r)
			return
		case r.URL.Path == routes.Logout && !a.cfg.IsCustomRoute("logout"):
			Logout(LogoutParams{}).ServeHTTP(w, r)
			return
		case r.URL.Path == routes.Login || r.URL.Path == routes.Callback || r.URL.Path == routes.Logout:
			// custom routes are served by the application
			next.ServeHTTP(w, r)
			return
		}

		switch {
		case a.cfg.AuthRequired && !st.authCtx.IsAuthenticated():
			if err := startLogin(w, r, st, LoginParams{}); err != nil {
				a.opts.withErrorHandler(w, r, err)
			}
		case a.cfg.AttemptSilentLogin:
			silent.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
