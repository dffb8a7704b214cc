// Package apperr defines the error taxonomy shared by every service and the
// single place that maps it onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication Kind = "AUTH_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindBusinessRule   Kind = "BUSINESS_RULE_ERROR"
	KindInternal       Kind = "INTERNAL_SERVER_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

func StatusOf(k Kind) int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindBusinessRule:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Unauthenticated(msg string) *Error { return New(KindAuthentication, "", msg) }
func Forbidden(msg string) *Error       { return New(KindAuthorization, "", msg) }
func NotFound(msg string) *Error        { return New(KindNotFound, "", msg) }
func Validation(code, msg string) *Error {
	return New(KindValidation, code, msg)
}
func BusinessRule(code, msg string) *Error {
	return New(KindBusinessRule, code, msg)
}
func Internal(err error) *Error {
	return Wrap(KindInternal, "", "internal server error", err)
}

// WithFields returns a copy of e carrying per-field validation messages.
// Package-level sentinels are shared across requests and must stay untouched.
func (e *Error) WithFields(fields map[string]string) *Error {
	cp := *e
	cp.Fields = fields
	return &cp
}

// Is matches another *Error with the same kind and non-empty code, so copies
// made by WithFields still satisfy errors.Is against their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// From finds the first *Error in err's chain. Anything else is internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}
