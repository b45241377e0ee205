package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so it can cross the FFI boundary as a number.
type Kind int

const (
	KindNone          Kind = 0
	KindInvalidInput  Kind = 1 // null, empty, NUL byte, not UTF-8
	KindUnavailable   Kind = 2 // path missing or unreadable
	KindMalformed     Kind = 3 // content is not a valid lockfile
	KindSerialization Kind = 4 // packages could not be encoded
	KindInternal      Kind = 5 // recovered panic
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidInput:
		return "invalid input"
	case KindUnavailable:
		return "lockfile unavailable"
	case KindMalformed:
		return "lockfile malformed"
	case KindSerialization:
		return "serialization failure"
	case KindInternal:
		return "internal error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrNullPath is returned when the caller passes a null path handle.
	ErrNullPath = errors.New("path is null")

	// ErrEmptyPath is returned for a zero-length path.
	ErrEmptyPath = errors.New("path is empty")

	// ErrInvalidUTF8 is returned when the path bytes are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("path is not valid UTF-8")

	// ErrNULInPath is returned when the path contains a NUL byte.
	ErrNULInPath = errors.New("path contains a NUL byte")

	// ErrUnknownFormat is returned when no parser is registered for a format.
	ErrUnknownFormat = errors.New("unknown lockfile format")
)

// Error is a classified lockfile failure.
type Error struct {
	Kind Kind
	Path string // empty when not applicable
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidInput returns a KindInvalidInput error.
func InvalidInput(err error) *Error {
	return &Error{Kind: KindInvalidInput, Err: err}
}

// Unavailable returns a KindUnavailable error for path.
func Unavailable(path string, err error) *Error {
	return &Error{Kind: KindUnavailable, Path: path, Err: err}
}

// Malformed returns a KindMalformed error for path.
func Malformed(path string, err error) *Error {
	return &Error{Kind: KindMalformed, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are reported as KindInternal, nil as KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
