package state

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to the UI.
type ErrorKind string

const (
	ErrorKindNotFound              ErrorKind = "NotFound"
	ErrorKindInvalidState          ErrorKind = "InvalidState"
	ErrorKindSpawnFailed           ErrorKind = "SpawnFailed"
	ErrorKindPlatformCommandFailed ErrorKind = "PlatformCommandFailed"
	ErrorKindRegistryFailed        ErrorKind = "RegistryFailed"
	ErrorKindUnsupported           ErrorKind = "Unsupported"
	ErrorKindIOFailed              ErrorKind = "IOFailed"
	ErrorKindSerializationFailed   ErrorKind = "SerializationFailed"
	ErrorKindUnknown               ErrorKind = "Unknown"
)

// Error carries a kind and a human-readable message for the UI.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds an Error; err may be nil.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf builds an Error without an underlying cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return string(ErrorKindUnknown)
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Kind
	}
	return ErrorKindUnknown
}

// IsPlatformFailure reports whether err is a platform command or registry failure.
func IsPlatformFailure(err error) bool {
	switch KindOf(err) {
	case ErrorKindPlatformCommandFailed, ErrorKindRegistryFailed:
		return true
	}
	return false
}
