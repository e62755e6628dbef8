package model

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures of the collaborative core.
type ErrorKind string

const (
	// KindAccessDenied indicates a join by a user who is not a list member.
	KindAccessDenied ErrorKind = "ACCESS_DENIED"

	// KindInvalidOperation indicates a malformed operation payload.
	KindInvalidOperation ErrorKind = "INVALID_OPERATION"

	// KindDuplicateOperation indicates the (client, operation) pair was already recorded.
	// Never surfaced to clients; callers treat it as already applied.
	KindDuplicateOperation ErrorKind = "DUPLICATE_OPERATION"

	// KindCancelled indicates the operation lost to a concurrent operation.
	KindCancelled ErrorKind = "CANCELLED"

	// KindPersistenceFailure indicates a durable write or read failed or timed out.
	KindPersistenceFailure ErrorKind = "PERSISTENCE_FAILURE"

	// KindUnknownList indicates the referenced list cannot be loaded.
	KindUnknownList ErrorKind = "UNKNOWN_LIST"

	// KindUnsupportedOperation indicates apply was handed an operation type it does not know.
	KindUnsupportedOperation ErrorKind = "UNSUPPORTED_OPERATION"
)

// Error is the structured error of the collaborative core.
//
// Every per-operation failure carries the list and operation it belongs to so
// the transport can route it to the submitting connection only.
type Error struct {
	Kind        ErrorKind
	Message     string
	ListID      string
	OperationID string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.OperationID != "" {
		msg = fmt.Sprintf("%s (list=%s, operation=%s)", msg, e.ListID, e.OperationID)
	} else if e.ListID != "" {
		msg = fmt.Sprintf("%s (list=%s)", msg, e.ListID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given kind wrapping cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// For returns a copy of e attributed to the given list and operation.
func (e *Error) For(listID, operationID string) *Error {
	cp := *e
	cp.ListID = listID
	cp.OperationID = operationID
	return &cp
}

// KindOf returns the ErrorKind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
