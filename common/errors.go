package common

import "fmt"

// ErrType enumerates recoverable error conditions raised across the core.
// These are always explicit result values, never exceptions/panics -- see
// ErrType's companion Assert for the one class of unrecoverable condition.
type ErrType uint32

const (
	// KeyNotFound is returned when a lookup misses.
	KeyNotFound ErrType = iota
	// TooLate is returned when an item has already aged out of a bounded
	// container.
	TooLate
	// Duplicate is returned when an insert collides with an existing entry.
	Duplicate
	// Full is returned when a bounded container has no room left.
	Full
	// InvalidInput is returned when a caller-supplied value fails validation.
	InvalidInput
	// Replay is returned when a vote or cookie response reuses stale state.
	Replay
)

// CoreErr is a typed error carrying enough context to let callers branch on
// the failure kind without string matching.
type CoreErr struct {
	Component string
	Type      ErrType
	Detail    string
}

// NewCoreErr builds a CoreErr.
func NewCoreErr(component string, errType ErrType, detail string) CoreErr {
	return CoreErr{Component: component, Type: errType, Detail: detail}
}

// Error implements the error interface.
func (e CoreErr) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Component, e.Type.String(), e.Detail)
}

// String renders the error kind.
func (t ErrType) String() string {
	switch t {
	case KeyNotFound:
		return "key not found"
	case TooLate:
		return "too late"
	case Duplicate:
		return "duplicate"
	case Full:
		return "full"
	case InvalidInput:
		return "invalid input"
	case Replay:
		return "replay"
	default:
		return "unknown"
	}
}

// Is reports whether err is a CoreErr of the given type.
func Is(err error, t ErrType) bool {
	coreErr, ok := err.(CoreErr)
	return ok && coreErr.Type == t
}

// Assert panics if cond is false. It is reserved for programmer-invariant
// violations (e.g. a non-IPv6 endpoint reaching a component that requires
// IPv6, or cookie-accounting underflow), never for ordinary recoverable
// error paths.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}
