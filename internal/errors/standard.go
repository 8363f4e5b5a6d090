// Package errors provides standardized error messaging for litebus.
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors.
type ErrorCategory string

const (
	CategoryTransport ErrorCategory = "TRANSPORT"
	CategoryCodec     ErrorCategory = "CODEC"
	CategoryLink      ErrorCategory = "LINK"
	CategorySocket    ErrorCategory = "SOCKET"
	CategoryTimer     ErrorCategory = "TIMER"
	CategoryConfig    ErrorCategory = "CONFIG"
)

// StandardError provides a consistent error format.
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface.
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError creates a new standardized error, capturing the caller
// one frame up so the error reports the function that raised it rather than
// this constructor.
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	return newStandardError(category, code, message, context)
}

// newStandardError is shared by NewStandardError and the helper
// constructors below; in both cases the frame two up from here is the
// function that asked for the error.
func newStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(2)
	caller := "unknown"

	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Common error constructors used across the transport plane.

func FdFatal(op string, fd int, cause error) *StandardError {
	return newStandardError(CategorySocket, "FD_FATAL",
		fmt.Sprintf("fatal fd error during %s: %v", op, cause),
		map[string]interface{}{"op": op, "fd": fd})
}

func OverLimit(field string, got, max int) *StandardError {
	return newStandardError(CategoryCodec, "OVER_LIMIT",
		fmt.Sprintf("%s length %d exceeds limit %d", field, got, max),
		map[string]interface{}{"field": field, "got": got, "max": max})
}

func ParseFailure(what, input string) *StandardError {
	return newStandardError(CategoryCodec, "PARSE_FAILURE",
		fmt.Sprintf("failed to parse %s: %q", what, input),
		map[string]interface{}{"what": what, "input": input})
}

func LinkNotFound(to string) *StandardError {
	return newStandardError(CategoryLink, "LINK_NOT_FOUND",
		fmt.Sprintf("no link for %q", to),
		map[string]interface{}{"to": to})
}

func HandshakeFailed(peer string, cause error) *StandardError {
	return newStandardError(CategorySocket, "HANDSHAKE_FAILED",
		fmt.Sprintf("handshake with %s failed: %v", peer, cause),
		map[string]interface{}{"peer": peer})
}

func VersionRejected(peer, version, constraint string) *StandardError {
	return newStandardError(CategorySocket, "VERSION_REJECTED",
		fmt.Sprintf("peer %s advertised version %s, does not satisfy %s", peer, version, constraint),
		map[string]interface{}{"peer": peer, "version": version, "constraint": constraint})
}

func ConfigInvalid(field string, value interface{}) *StandardError {
	return newStandardError(CategoryConfig, "CONFIG_INVALID",
		fmt.Sprintf("invalid value for %s: %v", field, value),
		map[string]interface{}{"field": field, "value": value})
}
