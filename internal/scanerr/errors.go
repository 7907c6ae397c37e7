package scanerr

import (
	"errors"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindNone         Kind = ""
	KindPermission   Kind = "permission"
	KindCameraAccess Kind = "camera_access"
	KindParse        Kind = "parse"
	KindDuplicate    Kind = "duplicate"
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
)

// Recoverable reports whether the camera may stay live after this failure.
// Denied permission and scan timeouts end the current scan session.
func (k Kind) Recoverable() bool {
	switch k {
	case KindPermission, KindTimeout:
		return false
	default:
		return true
	}
}

// Classifier is implemented by errors that declare their own kind.
type Classifier interface {
	ErrorKind() string
}

// Error is the concrete pipeline error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// New builds an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 3)
	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, op)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return string(e.Kind) + " error"
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements Classifier.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// UserMessage returns the advisory text shown to the user. The operation
// prefix and wrapped cause are omitted.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

// KindOf returns the kind declared anywhere in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var classifier Classifier
	if errors.As(err, &classifier) {
		return Kind(classifier.ErrorKind())
	}
	return KindNone
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage extracts the advisory text for any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var scanErr *Error
	if errors.As(err, &scanErr) {
		return scanErr.UserMessage()
	}
	return err.Error()
}
