package poker

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindForbidden        ErrorKind = "forbidden"
	KindInvalidState     ErrorKind = "invalid_state"
	KindValidation       ErrorKind = "validation_error"
	KindStoreUnavailable ErrorKind = "store_unavailable"
)

var (
	ErrNotFound         = &CommandError{Kind: KindNotFound}
	ErrForbidden        = &CommandError{Kind: KindForbidden}
	ErrInvalidState     = &CommandError{Kind: KindInvalidState}
	ErrValidation       = &CommandError{Kind: KindValidation}
	ErrStoreUnavailable = &CommandError{Kind: KindStoreUnavailable}
)

// CommandError is returned for every rejected command. Rejected commands
// never change room state.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches any CommandError of the same kind, so callers can use
// errors.Is(err, ErrInvalidState).
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *CommandError {
	return &CommandError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func forbidden(format string, args ...any) error {
	return newError(KindForbidden, format, args...)
}

func invalidState(format string, args ...any) error {
	return newError(KindInvalidState, format, args...)
}

func validation(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

func storeUnavailable(err error) error {
	return &CommandError{Kind: KindStoreUnavailable, Message: "room store unavailable", Err: err}
}

// Kind returns the kind of a command error, or "" for any other error.
func Kind(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
