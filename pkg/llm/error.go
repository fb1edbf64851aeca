// Package llm provides the internal representations of chat requests,
// conversation messages and streamed completion chunks shared by the relay,
// the completion backends and the client consumer.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a relay failure.
type ErrorCode string

const (
	// CodeValidation is a malformed conversation or request body.
	CodeValidation ErrorCode = "validation_error"

	// CodeBackendUnavailable means the backend could not be reached, or it
	// failed before producing any output.
	CodeBackendUnavailable ErrorCode = "backend_unavailable"

	// CodeBackendInterrupted means the backend stream broke after it had
	// started producing output.
	CodeBackendInterrupted ErrorCode = "backend_interrupted"

	// CodeTimeout means the wall-clock ceiling of the exchange was exceeded.
	CodeTimeout ErrorCode = "timeout"

	// CodeUnauthorized means the bearer token was missing or rejected.
	CodeUnauthorized ErrorCode = "unauthorized"

	// CodeArchiveDisabled is returned by history endpoints when no transcript
	// archive is configured.
	CodeArchiveDisabled ErrorCode = "archive_disabled"

	CodeNotFound ErrorCode = "not_found"
	CodeInternal ErrorCode = "internal_error"
)

// Error is the error type returned across the relay, backend and client
// packages. Use errors.As or CodeOf to inspect it.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds an *Error.
func NewError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// ValidationError reports malformed conversation input.
func ValidationError(format string, args ...any) *Error {
	return NewError(CodeValidation, fmt.Sprintf(format, args...), nil)
}

// BackendUnavailableError reports a backend that failed before any chunk.
func BackendUnavailableError(reason string, err error) *Error {
	return NewError(CodeBackendUnavailable, reason, err)
}

// BackendInterruptedError reports a backend stream that failed mid-flight.
func BackendInterruptedError(reason string, err error) *Error {
	return NewError(CodeBackendInterrupted, reason, err)
}

// TimeoutError reports an exchange that exceeded its wall-clock ceiling.
func TimeoutError(err error) *Error {
	return NewError(CodeTimeout, "wall-clock ceiling exceeded", err)
}

// CodeOf returns the code of the first *Error in err's chain. Context
// deadline errors that were never wrapped map to CodeTimeout, anything else
// to CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorResponse is the JSON body of every non-streaming error reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      ErrorCode `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}
