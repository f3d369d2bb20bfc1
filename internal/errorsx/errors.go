// Package errorsx implements the error taxonomy of spec §7: a closed set of
// typed, user-facing errors that travel through the exception-as-value
// wrapper instead of panicking or propagating as opaque errors.
package errorsx

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy's error classes.
type Kind string

const (
	KindInvalidUsage    Kind = "InvalidUsageException"
	KindNotFound        Kind = "NotFoundException"
	KindIntegrity       Kind = "IntegrityException"
	KindDuplicate       Kind = "DuplicateException"
	KindNoCandidates    Kind = "NoCandidatesFoundException"
	KindConfiguration   Kind = "ConfigurationException"
)

// Error is a typed, user-facing error. Infrastructure errors (broker/DB
// unreachable) are NOT wrapped in Error — they propagate as plain errors so
// the job queue's normal retry path applies.
type Error struct {
	Kind        Kind
	Message     string
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func InvalidUsage(format string, args ...any) *Error {
	return newErr(KindInvalidUsage, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, fmt.Sprintf(format, args...))
}

func Integrity(format string, args ...any) *Error {
	return newErr(KindIntegrity, fmt.Sprintf(format, args...))
}

func Duplicate(format string, args ...any) *Error {
	return newErr(KindDuplicate, fmt.Sprintf(format, args...))
}

func NoCandidatesFound(format string, args ...any) *Error {
	return newErr(KindNoCandidates, fmt.Sprintf(format, args...))
}

func Configuration(format string, args ...any) *Error {
	return newErr(KindConfiguration, fmt.Sprintf(format, args...))
}

// Wrap attaches a lower-level cause to a typed error without changing its
// Kind or Message.
func (e *Error) Wrap(cause error) *Error {
	e2 := *e
	e2.cause = cause
	return &e2
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// SerializedException is the wire format of §6.2 / §6.4: the shape a job
// result or session.Exc is marshaled to.
type SerializedException struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
	Trace       string `json:"trace,omitempty"`
}

// Serialize converts any error into the wire format. Typed *Error values
// keep their Kind as Type; everything else is reported as a generic
// "Exception" so infra errors are still representable if a caller chooses
// to serialize them (the dispatcher itself does not do this for infra
// errors — see internal/jobs).
func Serialize(err error) *SerializedException {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &SerializedException{
			Type:        string(e.Kind),
			Message:     e.Message,
			Description: e.Description,
		}
	}
	return &SerializedException{Type: "Exception", Message: err.Error()}
}

// Deserialize reconstructs a typed error from its wire form. Unknown Type
// values become a generic *Error with KindIntegrity (closest analogue to
// "something went wrong we don't have a box for").
func Deserialize(se *SerializedException) error {
	if se == nil {
		return nil
	}
	e := &Error{Kind: Kind(se.Type), Message: se.Message, Description: se.Description}
	switch e.Kind {
	case KindInvalidUsage, KindNotFound, KindIntegrity, KindDuplicate, KindNoCandidates, KindConfiguration:
	default:
		e.Kind = KindIntegrity
	}
	return e
}
