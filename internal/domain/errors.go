package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the application.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("resource already exists")
	ErrInternal        = errors.New("internal server error")
)

// Error carries a human readable message for one of the sentinel kinds above.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind. errors.Is(err, kind) holds for the result.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel the error belongs to, or ErrInternal.
func KindOf(err error) error {
	for _, kind := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrInvalidInput, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// PublicMessage returns text that is safe to show to a client. Anything outside the
// taxonomy collapses to a generic message.
func PublicMessage(err error) string {
	if KindOf(err) == ErrInternal {
		return ErrInternal.Error()
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return KindOf(err).Error()
}
