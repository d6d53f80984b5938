// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
)

// CallbackParams customize the callback handler.
type CallbackParams struct {
	// RedirectAfterLogin overrides the transaction's return URL.
	RedirectAfterLogin string

	// ContinueAfterLogin, when set, serves the request after a successful
	// callback instead of the redirect.
	ContinueAfterLogin http.Handler
}

// Callback handles the provider's authentication response, delivered as a
// GET query or a form_post. The pending Transaction is consumed, the
// response verified and the resulting AuthenticatedSession stored. The
// silent login cookie is cleared whatever the outcome.
func Callback(params CallbackParams) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := stateFrom(r.Context())
		if !ok {
			errorHandler(r)(w, r, notInstalled())
			return
		}
		ResumeSilentLogin(w, st.cfg)
		target, err := handleCallback(r, st, params)
		if err != nil {
			st.auth.opts.withErrorHandler(w, r, err)
			return
		}
		if params.ContinueAfterLogin != nil {
			params.ContinueAfterLogin.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	})
}

func handleCallback(r *http.Request, st *requestState, params CallbackParams) (string, error) {
	const op = "middleware.handleCallback"
	ctx := r.Context()
	m := st.auth.metrics.callbacks

	var tx Transaction
	found, err := st.session.Take(ctx, TransactionKey, &tx)
	switch {
	case err != nil:
		m.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	case !found:
		m.WithLabelValues("invalid_state").Inc()
		return "", fmt.Errorf("%s: %w", op, invalidState(ErrInvalidState))
	}
	st.auth.debug("handling callback", "silent", tx.Silent)

	resp, err := oidc.ParseAuthResponse(r)
	if err != nil {
		m.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%s: %w", op, &Error{
			Status:      http.StatusBadRequest,
			Code:        "invalid_request",
			Description: "Unable to read the authentication response",
			Err:         err,
		})
	}
	if resp.State != tx.State {
		m.WithLabelValues("invalid_state").Inc()
		return "", fmt.Errorf("%s: %w", op, invalidState(oidc.ErrResponseStateInvalid))
	}

	responseType := tx.ResponseType
	if responseType == "" {
		responseType = st.cfg.ResponseType()
	}
	result, err := st.client.Exchange(ctx, resp, oidc.ExchangeChecks{
		ExpectedState: tx.State,
		ExpectedNonce: tx.Nonce,
		CodeVerifier:  tx.CodeVerifier,
		RedirectURL:   st.cfg.RedirectURL(),
		ResponseType:  responseType,
	}, st.cfg.TokenEndpointParams)
	if err != nil {
		if pe, ok := oidc.IsProviderError(err); ok {
			m.WithLabelValues("provider_error").Inc()
			status := http.StatusInternalServerError
			if pe.Source == oidc.AuthorizationEndpoint {
				status = http.StatusBadRequest
			}
			description := pe.Description
			if description == "" {
				description = pe.Code
			}
			return "", fmt.Errorf("%s: %w", op, &Error{Status: status, Code: pe.Code, Description: description, Err: err})
		}
		if errors.Is(err, oidc.ErrResponseStateInvalid) {
			m.WithLabelValues("invalid_state").Inc()
			return "", fmt.Errorf("%s: %w", op, invalidState(err))
		}
		m.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%s: %w", op, err)
	}

	authSession := &AuthenticatedSession{
		Tokens:      *result.Tokens,
		RequestedAt: st.auth.opts.withNow().Unix(),
		Claims:      filterClaims(result.Claims, st.cfg.ExcludedClaims),
	}
	if hook := st.auth.opts.withAfterCallback; hook != nil {
		if authSession, err = hook(r, authSession); err != nil {
			m.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%s: after callback: %w", op, err)
		}
		if authSession == nil {
			m.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%s: after callback returned no session: %w", op, ErrNilParameter)
		}
	}
	if err := st.session.Regenerate(ctx); err != nil {
		m.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	if err := st.session.Set(ctx, SessionKey, authSession); err != nil {
		m.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	if err := session.Save(ctx); err != nil {
		m.WithLabelValues("error").Inc()
		// The consumed transaction must still be written, without the
		// session that couldn't be.
		if derr := st.session.Delete(ctx, SessionKey); derr != nil {
			err = errors.Join(err, derr)
		} else if serr := session.Save(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
		return "", fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	st.authCtx.set(authSession)
	m.WithLabelValues("success").Inc()

	target := params.RedirectAfterLogin
	if target == "" {
		target = tx.ReturnTo
	}
	if target == "" {
		target = "/"
	}
	st.auth.debug("login succeeded", "return_to", target)
	return target, nil
}
