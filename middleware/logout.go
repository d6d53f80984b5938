// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/hashicorp/oidcrp/session"
)

// LogoutParams customize the logout handler.
type LogoutParams struct {
	// RedirectAfterLogout is the local target, "/" by default.
	RedirectAfterLogout string
}

// Logout removes the authenticated session and clears the silent login
// cookie. With IDPLogout enabled and an id_token stored, the user is sent to
// the provider's end session endpoint, which returns to the local target.
func Logout(params LogoutParams) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := stateFrom(r.Context())
		if !ok {
			errorHandler(r)(w, r, notInstalled())
			return
		}
		target, err := handleLogout(r, st, params)
		ResumeSilentLogin(w, st.cfg)
		if err != nil {
			st.auth.opts.withErrorHandler(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, target, http.StatusFound)
	})
}

func handleLogout(r *http.Request, st *requestState, params LogoutParams) (string, error) {
	const op = "middleware.handleLogout"
	ctx := r.Context()

	var authSession AuthenticatedSession
	found, err := st.session.Get(ctx, SessionKey, &authSession)
	if err != nil {
		st.auth.logger.Warn("discarding unreadable authenticated session", "error", err)
		found = false
	}
	if err := st.session.Regenerate(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	if err := session.Save(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	st.authCtx.set(nil)

	target := params.RedirectAfterLogout
	if target == "" {
		target = "/"
	}
	idpLogout := st.cfg.IDPLogout && found && authSession.Tokens.IDToken != ""
	st.auth.metrics.logouts.WithLabelValues(strconv.FormatBool(idpLogout)).Inc()
	if !idpLogout {
		st.auth.debug("logged out", "idp_logout", false)
		return target, nil
	}
	endSession, err := st.client.EndSessionURL(authSession.Tokens.IDToken, st.cfg.URL(target), st.cfg.LogoutParams)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	st.auth.debug("logged out", "idp_logout", true)
	return endSession, nil
}
