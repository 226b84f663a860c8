package engine

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeNotStarted         = "NOT_STARTED"
	CodeAlreadyStarted     = "ALREADY_STARTED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidSettings    = "INVALID_SETTINGS"
	CodeConnectionDegraded = "CONNECTION_DEGRADED"
	CodeDecodeStalled      = "DECODE_STALLED"
)

// Error is returned by engine operations.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works for every not-found error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrNotStarted         = &Error{Code: CodeNotStarted, Message: "engine not started"}
	ErrAlreadyStarted     = &Error{Code: CodeAlreadyStarted, Message: "engine already started"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrInvalidSettings    = &Error{Code: CodeInvalidSettings, Message: "invalid settings"}
	ErrConnectionDegraded = &Error{Code: CodeConnectionDegraded, Message: "connection degraded"}
	ErrDecodeStalled      = &Error{Code: CodeDecodeStalled, Message: "decode stalled"}
)

// Code returns the code of an engine error, or "" for other errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func notFound(kind, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

func alreadyExists(kind, id string) error {
	return &Error{Code: CodeAlreadyExists, Message: fmt.Sprintf("%s %q already exists", kind, id)}
}

func invalidSettings(cause error) error {
	return &Error{Code: CodeInvalidSettings, Message: "invalid settings", Cause: cause}
}

func invalidArg(format string, args ...any) error {
	return &Error{Code: CodeInvalidSettings, Message: fmt.Sprintf(format, args...)}
}
