// Package apierr classifies tool call failures.
//
// Every failure surfaced by a tool is one of a small set of kinds so the
// dispatcher and the transport can branch on the kind instead of matching
// error strings.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of a tool call failure
type Kind string

const (
	// KindNone marks a successful call
	KindNone Kind = ""
	// KindValidation is a missing or disallowed parameter, detected before any network call
	KindValidation Kind = "validation"
	// KindRemote is a non-2xx response from the workspace
	KindRemote Kind = "remote"
	// KindTransport is a connection, DNS or timeout failure
	KindTransport Kind = "transport"
	// KindUnknownTool is a call to a name that is not in the tool table
	KindUnknownTool Kind = "unknown_tool"
	// KindInternal is anything else (encoding failures, handler bugs)
	KindInternal Kind = "internal"
)

// Error is the typed failure returned by the forwarder and the domain modules
type Error struct {
	Kind       Kind
	Op         string // e.g. "GET /api/2.0/permissions/clusters/123"
	Param      string // offending parameter for validation errors
	StatusCode int    // HTTP status for remote errors
	ErrorCode  string // remote error_code, when the workspace sent one
	Message    string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch e.Kind {
	case KindRemote:
		msg := e.Message
		if msg == "" {
			msg = http.StatusText(e.StatusCode)
		}
		if e.ErrorCode != "" {
			return fmt.Sprintf("databricks API error (%d %s): %s", e.StatusCode, e.ErrorCode, msg)
		}
		return fmt.Sprintf("databricks API error (%d): %s", e.StatusCode, msg)
	case KindTransport:
		if e.Err != nil {
			return fmt.Sprintf("request %s failed: %v", e.Op, e.Err)
		}
		return fmt.Sprintf("request %s failed: %s", e.Op, e.Message)
	default:
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind) + " error"
	}
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a validation error for a parameter
func Validation(param, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Param:   param,
		Message: fmt.Sprintf(format, args...),
	}
}

// Missing builds the error reported when a required parameter is absent
func Missing(param string) *Error {
	return Validation(param, "missing required parameter: %s", param)
}

// NotAllowed builds the error reported when a value is outside its enumerated set
func NotAllowed(param, value string, allowed []string) *Error {
	return Validation(param, "invalid %s: %q (must be one of %v)", param, value, allowed)
}

// Remote builds a remote API error
func Remote(op string, status int, code, message string) *Error {
	return &Error{
		Kind:       KindRemote,
		Op:         op,
		StatusCode: status,
		ErrorCode:  code,
		Message:    message,
	}
}

// Transport wraps a transport failure
func Transport(op string, err error) *Error {
	return &Error{
		Kind: KindTransport,
		Op:   op,
		Err:  err,
	}
}

// Internal wraps an unexpected failure
func Internal(err error) *Error {
	return &Error{
		Kind: KindInternal,
		Err:  err,
	}
}

// KindOf returns the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// StatusCode returns the remote HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
