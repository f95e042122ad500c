// Package fault classifies backup failures so callers can decide policy with errors.Is.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an Error.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindRemote
	KindLocalIO
)

var (
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrRemote         = errors.New("remote operation error")
	ErrLocalIO        = errors.New("local i/o error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthentication:
		return ErrAuthentication
	case KindRemote:
		return ErrRemote
	case KindLocalIO:
		return ErrLocalIO
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// Error is a classified failure. Code holds the provider status for remote errors (0 if unknown).
type Error struct {
	Kind Kind
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: "validate", Err: fmt.Errorf(format, args...)}
}

func Authentication(op string, err error) error {
	return &Error{Kind: KindAuthentication, Op: op, Err: err}
}

func Remote(op string, code int, err error) error {
	return &Error{Kind: KindRemote, Op: op, Code: code, Err: err}
}

func LocalIO(op string, err error) error {
	return &Error{Kind: KindLocalIO, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// StatusCode returns the provider status carried by a remote error, or 0.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 0
}
