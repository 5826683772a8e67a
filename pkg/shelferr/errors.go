// Package shelferr defines the error taxonomy shared by every shelf component.
//
// §7 of the design distinguishes error *kinds*, not concrete types: Input,
// NotFound, Transient, Integrity, NonCritical, and Fatal. A single Error type
// carries one of these kinds plus a human message, so callers can branch on
// behavior (retry, surface to caller, tear down a session, accumulate and
// continue) with errors.As instead of sentinel comparison.
package shelferr

import "fmt"

// Kind categorizes an error for propagation-policy purposes (§7).
type Kind int

const (
	// Input indicates a malformed request: bad UUID, missing field. Never retried.
	Input Kind = iota

	// NotFound indicates a referenced resource does not exist. The operation is a no-op.
	NotFound

	// Transient indicates a flaky I/O, timeout, or keepalive gap. Retried with backoff.
	Transient

	// Integrity indicates a checksum mismatch, key-derivation, or auth failure.
	// Fatal for the current operation; the containing session is torn down.
	Integrity

	// NonCritical indicates a per-item failure within a long job. Accumulated, not fatal.
	NonCritical

	// Fatal indicates unrecoverable corruption or transport failure. The containing
	// component transitions to Failed and publishes an event.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case NonCritical:
		return "non_critical"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the machine-readable error shape used across shelf: a Kind plus a
// human message and, where relevant, the path or id the error concerns.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Path)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, shelferr.NotFound) style checks against a Kind
// sentinel created via New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a bare Error of the given kind, useful as an errors.Is target.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFoundf builds a NotFound error naming the missing resource.
func NotFoundf(entity, path string) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf("%s not found", entity), Path: path}
}

// Invalidf builds an Input error for a malformed request.
func Invalidf(format string, args ...any) *Error {
	return &Error{Kind: Input, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a Transient error wrapping a retryable cause.
func Transientf(err error, format string, args ...any) *Error {
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...), Err: err}
}

// Integrityf builds an Integrity error (checksum mismatch, auth failure, ...).
func Integrityf(format string, args ...any) *Error {
	return &Error{Kind: Integrity, Message: fmt.Sprintf(format, args...)}
}

// Fatalf builds a Fatal error for unrecoverable component failure.
func Fatalf(err error, format string, args ...any) *Error {
	return &Error{Kind: Fatal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a *Error.
// Unrecognized errors are reported as Fatal, the conservative default.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// As is a thin wrapper around errors.As kept local to avoid importing the
// stdlib package name "errors" alongside this package's own error helpers
// in call sites that do `import shelferr "..."`.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
