// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"net/http"

	"github.com/hashicorp/oidcrp/config"
	"github.com/munnerz/goautoneg"
)

// SkipSilentLoginCookie marks a browser on which silent login was already
// attempted.
const SkipSilentLoginCookie = "oidc_skip_silent_login"

// PauseSilentLogin sets the cookie that stops AttemptSilentLogin from
// starting another silent login.
func PauseSilentLogin(w http.ResponseWriter, cfg *config.Config) {
	http.SetCookie(w, cfg.CookieOptions().Cookie(SkipSilentLoginCookie, "true"))
}

// ResumeSilentLogin clears the cookie set by PauseSilentLogin.
func ResumeSilentLogin(w http.ResponseWriter, cfg *config.Config) {
	c := cfg.CookieOptions().Cookie(SkipSilentLoginCookie, "")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// AttemptSilentLogin starts a login with prompt=none for unauthenticated
// browser navigations. Requests are passed on unchanged when silent login
// was already attempted, the request is authenticated or the client doesn't
// negotiate HTML.
func AttemptSilentLogin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := stateFrom(r.Context())
			if !ok {
				errorHandler(r)(w, r, notInstalled())
				return
			}
			if skipSilentLogin(r, st) {
				next.ServeHTTP(w, r)
				return
			}
			PauseSilentLogin(w, st.cfg)
			if err := startLogin(w, r, st, LoginParams{Silent: true}); err != nil {
				st.auth.opts.withErrorHandler(w, r, err)
			}
		})
	}
}

func skipSilentLogin(r *http.Request, st *requestState) bool {
	if _, err := r.Cookie(SkipSilentLoginCookie); err == nil {
		return true
	}
	return st.authCtx.IsAuthenticated() || !acceptsHTML(r)
}

// acceptsHTML negotiates between text/html and application/json, JSON
// being the default. A bare */* doesn't count as asking for HTML.
func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if goautoneg.Negotiate(accept, []string{"text/html", "application/json"}) != "text/html" {
		return false
	}
	for _, a := range goautoneg.ParseAccept(accept) {
		if a.Type == "text" && a.SubType == "html" && a.Q > 0 {
			return true
		}
	}
	return false
}
