// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrSessionUnavailable = errors.New("session middleware not configured properly")
	ErrNotInstalled       = errors.New("auth middleware is not installed")
	ErrInvalidState       = errors.New("invalid callback state")
	ErrAuthRequired       = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrSubjectChanged     = errors.New("refreshed id_token subject differs from the session's")
)

// Error codes of the JSON error responses.
const (
	CodeInvalidState = "invalid_state"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeServerError  = "server_error"
)

// Error is an authentication failure rendered to the client as
// {"error": Code, "error_description": Description} with Status.
type Error struct {
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Description)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorHandler renders errors returned by the handlers of this package.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler writes an *Error as JSON with its status. Any other
// error is a 500 server_error whose details aren't disclosed.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{
			Status:      http.StatusInternalServerError,
			Code:        CodeServerError,
			Description: http.StatusText(http.StatusInternalServerError),
		}
	}
	status := e.Status
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description,omitempty"`
	}{Error: e.Code, ErrorDescription: e.Description})
}

func sessionUnavailable(err error) *Error {
	return &Error{
		Status:      http.StatusInternalServerError,
		Code:        CodeServerError,
		Description: "Session middleware not configured properly",
		Err:         err,
	}
}

func invalidState(err error) *Error {
	return &Error{
		Status:      http.StatusUnauthorized,
		Code:        CodeInvalidState,
		Description: "Invalid callback state",
		Err:         err,
	}
}

func authRequired() *Error {
	return &Error{
		Status:      http.StatusUnauthorized,
		Code:        CodeUnauthorized,
		Description: "Authentication required",
		Err:         ErrAuthRequired,
	}
}
