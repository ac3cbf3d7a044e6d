package forum

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeInconsistency      Code = "INCONSISTENCY"
	CodeTxConflict         Code = "TX_CONFLICT"
)

// Reasons refine CodePreconditionFailed.
const (
	ReasonInsufficientTopics = "insufficient_topics"
	ReasonNotModerator       = "not_moderator"
	ReasonNotAuthor          = "not_author"
	ReasonTopicClosed        = "topic_closed"
	ReasonUnauthenticated    = "unauthenticated"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code. A target with a reason also
// requires the reason to match.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code && (t.Reason == "" || t.Reason == e.Reason)
	}
	return false
}

var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed, Message: "precondition failed"}
	ErrInconsistency      = &Error{Code: CodeInconsistency, Message: "inconsistent aggregate"}
	ErrTxConflict         = &Error{Code: CodeTxConflict, Message: "transaction conflict"}

	ErrInsufficientTopics = &Error{
		Code:    CodePreconditionFailed,
		Reason:  ReasonInsufficientTopics,
		Message: "merge needs at least two distinct topics",
	}
	ErrNotModerator = &Error{
		Code:    CodePreconditionFailed,
		Reason:  ReasonNotModerator,
		Message: "actor is not a moderator",
	}
)

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func preconditionError(reason, message string) *Error {
	return &Error{Code: CodePreconditionFailed, Reason: reason, Message: message}
}

// NotFoundError reports a missing entity of the given kind.
func NotFoundError(kind string, id any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", kind, id)}
}

// ConflictError wraps a store-level serialization failure or deadlock.
func ConflictError(cause error) *Error {
	return &Error{Code: CodeTxConflict, Message: "transaction conflict", Cause: cause}
}

// ErrorCode extracts the domain code from err, or CodeUnknown.
func ErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ErrorReason extracts the precondition reason from err, if any.
func ErrorReason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
