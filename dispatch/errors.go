package dispatch

import (
	"errors"
	"strings"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/tasks"
)

// ErrorKind classifies a failed operation so the calling client can
// decide whether a retry makes sense (internal/upstream) or not
// (validation, unauthorized, not found).
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindUpstream     ErrorKind = "upstream"
	KindInternal     ErrorKind = "internal"
)

// Error is the structured failure returned by the dispatcher. Message
// is client-facing and never leaks internal state.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func errValidation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func errUnauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Message: "Unauthorized"}
}

func errInternal() *Error {
	return &Error{Kind: KindInternal, Message: "Internal error"}
}

// AsError normalizes any error into the dispatcher's taxonomy.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "Not found"}
	case errors.Is(err, tasks.ErrValidation):
		return &Error{Kind: KindValidation, Message: validationMessage(err)}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &Error{Kind: KindUnauthorized, Message: "Invalid credentials"}
	case errors.Is(err, auth.ErrUnauthorized):
		return errUnauthorized()
	case errors.Is(err, auth.ErrUpstream):
		return &Error{Kind: KindUpstream, Message: "Internal error"}
	default:
		return errInternal()
	}
}

// validationMessage extracts the human-readable part of a wrapped
// tasks.ErrValidation ("invalid task input: missing title").
func validationMessage(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		return strings.ToUpper(msg[idx+2:][:1]) + msg[idx+2:][1:]
	}
	return "Invalid input"
}
