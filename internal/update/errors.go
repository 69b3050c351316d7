package update

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the update workflow.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindArchive
	KindFileSystem
	KindValidation
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindArchive:
		return "archive"
	case KindFileSystem:
		return "filesystem"
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrArchive       = &Error{Kind: KindArchive}
	ErrFileSystem    = &Error{Kind: KindFileSystem}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

// Error is a classified update failure. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error target with the same kind, so the package sentinels
// work with errors.Is regardless of Op or the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
