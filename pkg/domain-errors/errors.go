// Package domainerrors defines coded domain errors returned by services.
//
// Stores return sentinel errors (pkg/platform/sentinel) describing
// infrastructure facts; services translate them into coded errors that the
// transport layer can map onto HTTP statuses. Always import aliased:
//
//	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and caller branching.
type Code string

const (
	// CodeBadRequest covers malformed or policy-violating input
	// (missing reason, reason too short, empty scope entry, ...).
	CodeBadRequest Code = "bad_request"

	// CodeNotFound covers a missing framework, assessment, finding, or
	// tenant configuration.
	CodeNotFound Code = "not_found"

	// CodeConflict covers unique-key collisions and already-true state.
	CodeConflict Code = "conflict"

	// CodeInvalidState covers operations illegal for the current lifecycle
	// state, e.g. running an assessment that is already completed.
	CodeInvalidState Code = "invalid_state"

	// CodeInvalidFeature covers an unknown feature name for a module.
	CodeInvalidFeature Code = "invalid_feature"

	// CodeForbidden covers operations gated off for the tenant.
	CodeForbidden Code = "forbidden"

	// CodeUnauthorized covers requests without an authenticated caller.
	CodeUnauthorized Code = "unauthorized"

	// CodeTimeout covers deadline expiry inside a transactional boundary.
	CodeTimeout Code = "timeout"

	// CodeUnavailable covers systemic collaborator failure, e.g. the
	// control evaluator rejecting the whole run.
	CodeUnavailable Code = "unavailable"

	// CodeInternal covers storage and other infrastructure failures. The
	// message is never surfaced to clients.
	CodeInternal Code = "internal_error"

	// CodeInvariantViolation covers model-level transition checks. Services
	// usually translate these into CodeConflict or CodeInvalidState.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded domain error. It optionally wraps a cause for logging
// while keeping the code/message pair stable for callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around a cause. The cause is preserved for
// errors.Is/As chains and log output.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors so transport mapping stays fail-safe.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-safe message from err. Uncoded errors yield
// an empty message; transports must not leak raw error text.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
