// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/hashicorp/oidcrp/config"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
)

// Transaction is the pending login, flashed under TransactionKey and
// consumed by the callback.
type Transaction struct {
	CodeVerifier string `json:"code_verifier,omitempty"`
	Nonce        string `json:"nonce"`
	State        string `json:"state"`
	ReturnTo     string `json:"return_to,omitempty"`
	Silent       bool   `json:"silent"`
	ResponseType string `json:"response_type,omitempty"`
}

// LoginParams customize a login.
type LoginParams struct {
	// RedirectAfterLogin is where the callback sends the user. By default
	// it's the current URL for GET requests other than the login route,
	// else the return_to query parameter, else "/".
	RedirectAfterLogin string

	// Silent sends prompt=none.
	Silent bool

	// AuthorizationParams override the configured ones.
	AuthorizationParams map[string]string

	// ForwardParams lists the query parameters copied into the
	// authorization request when they're not empty. It defaults to the
	// configured ForwardAuthorizationParams.
	ForwardParams []string
}

// SafeRedirect returns target when it's a local path or an absolute URL on
// the base URL's host, and "/" otherwise. Targets containing whitespace or
// control characters are rejected, browsers strip some of them before
// resolving a Location.
func SafeRedirect(target string, cfg *config.Config) string {
	switch {
	case target == "":
		return "/"
	case strings.IndexFunc(target, isUnsafeRedirectRune) >= 0:
		return "/"
	case strings.HasPrefix(target, "/"):
		if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
			return "/"
		}
		return target
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "/"
	}
	if cfg != nil && u.Hostname() == cfg.BaseHost() {
		return target
	}
	return "/"
}

func isUnsafeRedirectRune(r rune) bool {
	return r <= ' ' || r == 0x7f || unicode.IsSpace(r) || unicode.IsControl(r)
}

// Login is a handler starting a login.
func Login(params LoginParams) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := StartLogin(w, r, params); err != nil {
			errorHandler(r)(w, r, err)
		}
	})
}

// StartLogin creates a Transaction and redirects to the provider's
// authorization endpoint. The request must have passed through Auth.
func StartLogin(w http.ResponseWriter, r *http.Request, params LoginParams) error {
	const op = "middleware.StartLogin"
	st, ok := stateFrom(r.Context())
	if !ok {
		return notInstalled()
	}
	if err := startLogin(w, r, st, params); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func startLogin(w http.ResponseWriter, r *http.Request, st *requestState, params LoginParams) error {
	const op = "middleware.startLogin"
	cfg := st.cfg

	returnTo := params.RedirectAfterLogin
	if returnTo == "" && r.Method == http.MethodGet && r.URL.Path != cfg.Routes.Login {
		returnTo = r.URL.RequestURI()
	}
	if returnTo == "" {
		returnTo = r.URL.Query().Get("return_to")
	}
	returnTo = SafeRedirect(returnTo, cfg)

	state, err := oidc.NewState()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := oidc.NewNonce()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tx := Transaction{
		Nonce:    nonce,
		State:    state,
		ReturnTo: returnTo,
		Silent:   params.Silent,
	}

	authParams := oidc.AuthParams(maps.Clone(cfg.AuthorizationParams))
	authParams["redirect_uri"] = cfg.RedirectURL()
	authParams["nonce"] = nonce
	authParams["state"] = state
	if cfg.UsesPKCE() {
		tx.CodeVerifier = oidc.NewCodeVerifier()
		authParams["code_challenge"] = oidc.CodeChallenge(tx.CodeVerifier)
		authParams["code_challenge_method"] = "S256"
	}
	maps.Copy(authParams, params.AuthorizationParams)
	forward := params.ForwardParams
	if forward == nil {
		forward = cfg.ForwardAuthorizationParams
	}
	query := r.URL.Query()
	for _, name := range forward {
		if v := query.Get(name); v != "" {
			authParams[name] = v
		}
	}
	if params.Silent {
		authParams["prompt"] = "none"
	}
	tx.ResponseType = authParams["response_type"]

	var authURL string
	if cfg.PushedAuthorizationRequests {
		authURL, err = st.client.AuthURLWithPAR(r.Context(), authParams)
	} else {
		authURL, err = st.client.AuthURL(r.Context(), authParams)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := st.session.Flash(r.Context(), TransactionKey, tx); err != nil {
		return fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}
	if err := session.Save(r.Context()); err != nil {
		return fmt.Errorf("%s: %w", op, sessionUnavailable(err))
	}

	mode := "interactive"
	if params.Silent {
		mode = "silent"
	}
	st.auth.metrics.logins.WithLabelValues(mode).Inc()
	st.auth.debug("starting login", "return_to", returnTo, "silent", params.Silent, "par", cfg.PushedAuthorizationRequests)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}
