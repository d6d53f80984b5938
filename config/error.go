// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// FieldError is a single violated constraint.
type FieldError struct {
	// Field is the yaml path of the option, e.g. "session.cookie.secure".
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError enumerates every constraint violated by an Options value.
// It matches ErrInvalidConfig with errors.Is.
type ValidationError struct {
	errs *multierror.Error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.errs.Errors))
	for _, err := range e.errs.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %d error(s): %s", ErrInvalidConfig, len(msgs), strings.Join(msgs, "; "))
}

// Is reports whether target is ErrInvalidConfig.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidConfig }

// Unwrap returns the individual violations.
func (e *ValidationError) Unwrap() []error { return e.errs.WrappedErrors() }

// Fields returns every violation in the order they were found.
func (e *ValidationError) Fields() []*FieldError {
	fields := make([]*FieldError, 0, len(e.errs.Errors))
	for _, err := range e.errs.Errors {
		var fe *FieldError
		if errors.As(err, &fe) {
			fields = append(fields, fe)
		}
	}
	return fields
}

// violations collects FieldErrors. The zero value is ready to use.
type violations struct {
	errs   *multierror.Error
	failed map[string]bool
}

func (v *violations) add(field, format string, args ...interface{}) {
	if v.failed == nil {
		v.failed = map[string]bool{}
	}
	v.failed[field] = true
	v.errs = multierror.Append(v.errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// has reports whether field already failed a check.
func (v *violations) has(field string) bool { return v.failed[field] }

func (v *violations) err() error {
	if v.errs.ErrorOrNil() == nil {
		return nil
	}
	return &ValidationError{errs: v.errs}
}
