// Package apperr provides unified error handling with structured codes.
// Codes follow the session error taxonomy: transient platform failures are
// retryable, configuration errors are fatal to session start, inference
// failures drop the affected window, invalid data is rerouted rather than
// raised.
package apperr

import "fmt"

// Code classifies an error for retry and surfacing decisions.
type Code int

const (
	CodeUnknown Code = iota

	// Transient platform failures: bounded retry, then per-source surfacing.
	CodeDeviceAssign
	CodeStreamStart
	CodeTapUnavailable

	// Configuration errors: fatal to starting a session, never retried.
	CodeNoInputDevice
	CodeCaptureNotPermitted
	CodeConfigInvalid

	// Inference failures: logged, window dropped, session continues.
	CodeInferenceFailed
	CodeEngineUnavailable

	// Invalid data: routed to the unknown-speaker path, not raised.
	CodeEmbeddingInvalid

	// Persistence failures.
	CodeStoreFailed
)

var codeNames = map[Code]string{
	CodeUnknown:             "UNKNOWN",
	CodeDeviceAssign:        "DEVICE_ASSIGN",
	CodeStreamStart:         "STREAM_START",
	CodeTapUnavailable:      "TAP_UNAVAILABLE",
	CodeNoInputDevice:       "NO_INPUT_DEVICE",
	CodeCaptureNotPermitted: "CAPTURE_NOT_PERMITTED",
	CodeConfigInvalid:       "CONFIG_INVALID",
	CodeInferenceFailed:     "INFERENCE_FAILED",
	CodeEngineUnavailable:   "ENGINE_UNAVAILABLE",
	CodeEmbeddingInvalid:    "EMBEDDING_INVALID",
	CodeStoreFailed:         "STORE_FAILED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error is the base error type with a structured code and metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates a new Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an Error.
func (e *Error) WithMetadata(key, value string) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// IsCode checks if an error carries a specific code.
func IsCode(err error, code Code) bool {
	if appErr, ok := err.(*Error); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	if appErr, ok := err.(*Error); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error is a transient platform or
// engine failure worth another bounded attempt.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeDeviceAssign, CodeStreamStart, CodeEngineUnavailable:
		return true
	default:
		return false
	}
}

// IsFatal returns true for configuration errors that abort session start.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeNoInputDevice, CodeCaptureNotPermitted, CodeConfigInvalid:
		return true
	default:
		return false
	}
}
