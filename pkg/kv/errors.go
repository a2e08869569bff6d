package kv

import "fmt"

// Code is the abstract error taxonomy from the design: every operation that
// can fail reports one of these kinds instead of an ad-hoc error string, so
// callers can drive the retry policy by switching on Code rather than
// matching text.
type Code int

const (
	// CodeOK is never returned as an error; it exists so the zero Code is
	// not confused with a real failure kind.
	CodeOK Code = iota
	CodeConflict
	CodeMaybeCommitted
	CodeBusy
	CodeTimeout
	CodeNetworkError
	CodeNotFound
	CodeAlreadyExists
	CodeNoPermission
	CodeInvalidArgument
	CodeThrottled
	CodeVersionMismatch
	CodeCorruption
	CodeTooOld
	CodeFatal
)

func (c Code) String() string {
	switch c {
	case CodeConflict:
		return "Conflict"
	case CodeMaybeCommitted:
		return "MaybeCommitted"
	case CodeBusy:
		return "Busy"
	case CodeTimeout:
		return "Timeout"
	case CodeNetworkError:
		return "NetworkError"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeNoPermission:
		return "NoPermission"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeThrottled:
		return "Throttled"
	case CodeVersionMismatch:
		return "VersionMismatch"
	case CodeCorruption:
		return "Corruption"
	case CodeTooOld:
		return "TooOld"
	case CodeFatal:
		return "Fatal"
	default:
		return "OK"
	}
}

// Error is the structured result type threaded through transaction and
// storage APIs in place of ambient exceptions.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Code alone when the caller compares against a
// bare *Error{Code: ...} sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a structured error with the given code and message.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error without losing it.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err, defaulting to CodeFatal for errors that
// were never classified.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return CodeFatal
	}
	return e.Code
}

// Retriable reports whether the default policy for this code is to retry at
// all (unconditionally or conditionally on idempotency); it does not itself
// consult the idempotency flag.
func Retriable(code Code) bool {
	switch code {
	case CodeConflict, CodeThrottled, CodeTimeout, CodeNetworkError, CodeBusy, CodeMaybeCommitted, CodeVersionMismatch, CodeTooOld:
		return true
	default:
		return false
	}
}
