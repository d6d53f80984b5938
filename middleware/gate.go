// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"net/http"
	"reflect"
)

// AuthFailureMode is how RequiresAuth treats unauthenticated requests.
type AuthFailureMode int

const (
	// ModeDefault follows the configured ErrorOnRequiredAuth.
	ModeDefault AuthFailureMode = iota
	// ModeRedirect starts a login.
	ModeRedirect
	// ModeError responds with 401.
	ModeError
)

// RequiresAuth only lets authenticated requests through. Unauthenticated
// requests get a 401 when they don't accept HTML or the mode is ModeError,
// and are sent to login otherwise. Without a mode the configured
// ErrorOnRequiredAuth decides.
func RequiresAuth(mode ...AuthFailureMode) func(http.Handler) http.Handler {
	m := ModeDefault
	if len(mode) > 0 {
		m = mode[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := stateFrom(r.Context())
			if !ok {
				errorHandler(r)(w, r, notInstalled())
				return
			}
			if st.authCtx.IsAuthenticated() {
				next.ServeHTTP(w, r)
				return
			}
			denyUnauthenticated(w, r, st, m)
		})
	}
}

func denyUnauthenticated(w http.ResponseWriter, r *http.Request, st *requestState, m AuthFailureMode) {
	if !acceptsHTML(r) || m == ModeError || (m == ModeDefault && st.cfg.ErrorOnRequiredAuth) {
		st.auth.metrics.authFailures.WithLabelValues("unauthorized").Inc()
		st.auth.opts.withErrorHandler(w, r, authRequired())
		return
	}
	if err := startLogin(w, r, st, LoginParams{}); err != nil {
		st.auth.opts.withErrorHandler(w, r, err)
	}
}

// ClaimEquals only lets authenticated requests through whose claim equals
// value. Unauthenticated requests are handled like RequiresAuth() does and
// other requests get a 403.
//
// Claims are decoded from JSON, so numbers are float64 and arrays
// []interface{}.
func ClaimEquals(claim string, value interface{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := stateFrom(r.Context())
			if !ok {
				errorHandler(r)(w, r, notInstalled())
				return
			}
			if !st.authCtx.IsAuthenticated() {
				denyUnauthenticated(w, r, st, ModeDefault)
				return
			}
			got, ok := st.authCtx.Claims()[claim]
			if !ok || !reflect.DeepEqual(got, value) {
				st.auth.metrics.authFailures.WithLabelValues("forbidden").Inc()
				st.auth.opts.withErrorHandler(w, r, &Error{
					Status:      http.StatusForbidden,
					Code:        CodeForbidden,
					Description: "Forbidden: insufficient permissions",
					Err:         ErrForbidden,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
