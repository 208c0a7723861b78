// Package derrors provides coded domain errors shared across modules.
// Codes classify failures for propagation policy and HTTP mapping without
// callers having to match on error strings.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeBadRequest: the request shape is wrong (missing fields, bad types).
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput: the request is well-formed but a value is invalid.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound: the referenced entity does not exist or has been evicted.
	CodeNotFound Code = "not_found"
	// CodeResourceExhausted: admission control rejected the work (queue full,
	// rate limit wait queue saturated). Never retried internally.
	CodeResourceExhausted Code = "resource_exhausted"
	// CodeUnavailable: the component is shut down or otherwise unable to
	// accept work (limiter destroyed). Terminal for pending callers.
	CodeUnavailable Code = "unavailable"
	// CodeProviderFailure: the external verification call failed. Drives the
	// queue retry policy.
	CodeProviderFailure Code = "provider_failure"
	// CodeInternal: unexpected failure in a collaborator (store, cache).
	CodeInternal Code = "internal"
	// CodeInvariantViolation: a domain invariant would be broken.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, walking the wrap chain.
// Unclassified errors report CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
