package engine

import "fmt"

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

type ErrorKind uint64

const (
	KindLoad       ErrorKind = iota // store file could not be read or parsed
	KindSyntax                      // malformed query
	KindExecution                   // runtime query failure
	KindRange                       // invalid text-slice bounds
	KindConversion                  // result cannot satisfy the requested format
	KindNotFound                    // unknown annotation or resource id
	KindConflict                    // duplicate creation
)

func (k ErrorKind) String() string {
	switch k {
	case KindLoad:
		return "LoadError"
	case KindSyntax:
		return "SyntaxError"
	case KindExecution:
		return "ExecutionError"
	case KindRange:
		return "RangeError"
	case KindConversion:
		return "UnsupportedConversion"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by all engine operations. It wraps an
// ErrorKind so callers can map failures without string matching.
type Error struct {
	Kind ErrorKind // The error kind
	Msg  string    // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Kind, e.Msg)
}

// NewError creates a new engine Error with the given kind and message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// KindOf returns the ErrorKind of err if it is an engine Error,
// and false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}
