// Package coorderr defines the structured error kinds shared by every
// coordinator component. No fallible operation across a component
// boundary returns a bare error; it returns a *CoordError (or wraps one)
// so callers can switch on Kind instead of matching strings.
package coorderr

import "fmt"

// Kind is the closed set of error categories a component boundary can
// surface. Never add a kind without updating the CLI exit-code mapping.
type Kind string

const (
	KindBackendUnavailable        Kind = "backend_unavailable"
	KindNotFound                  Kind = "not_found"
	KindHeldByOther               Kind = "held_by_other"
	KindDependencyUnsatisfied     Kind = "dependency_unsatisfied"
	KindAuthorizationDenied       Kind = "authorization_denied"
	KindDestructiveOperationBlock Kind = "destructive_operation_blocked"
	KindValidationFailed          Kind = "validation_failed"
	KindPreconditionFailed        Kind = "precondition_failed"
	KindTimeout                   Kind = "timeout"
	KindCancelled                 Kind = "cancelled"
)

// CoordError is the structured error every core operation returns on
// failure. Diagnostics carries machine-readable detail (e.g. the
// competing holder on held_by_other) beyond the human-readable Reason.
type CoordError struct {
	Kind        Kind
	Reason      string
	Diagnostics map[string]any
	cause       error
}

func (e *CoordError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *CoordError) Unwrap() error { return e.cause }

// New builds a CoordError with no wrapped cause.
func New(kind Kind, reason string) *CoordError {
	return &CoordError{Kind: kind, Reason: reason}
}

// Newf builds a CoordError with a formatted reason.
func Newf(kind Kind, format string, args ...any) *CoordError {
	return &CoordError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and reason to an underlying cause, preserving it
// for errors.Unwrap / errors.Is chains.
func Wrap(kind Kind, reason string, cause error) *CoordError {
	return &CoordError{Kind: kind, Reason: reason, cause: cause}
}

// WithDiagnostics returns a copy of e carrying the supplied diagnostics map.
func (e *CoordError) WithDiagnostics(d map[string]any) *CoordError {
	c := *e
	c.Diagnostics = d
	return &c
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *CoordError
	for err != nil {
		if c, ok := err.(*CoordError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}

// ExitCode maps a Kind to the coordinator CLI's process exit code
// convention: 0 success, 10 validation failed, 11 backend unavailable,
// 1 usage error. Non-CLI callers ignore this; it exists so the CLI
// layer never re-derives the mapping.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *CoordError
	if c, ok := err.(*CoordError); ok {
		ce = c
	} else {
		return 1
	}
	switch ce.Kind {
	case KindValidationFailed:
		return 10
	case KindBackendUnavailable:
		return 11
	default:
		return 1
	}
}
