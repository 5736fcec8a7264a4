package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindNotFound          Kind = "NotFound"
	KindInvalidTransition Kind = "InvalidTransition"
	KindConflict          Kind = "Conflict"
	KindUnknownCustomer   Kind = "UnknownCustomer"
	KindInvalidAmount     Kind = "InvalidAmount"
	KindTimeout           Kind = "Timeout"
	KindRateLimited       Kind = "RateLimited"
	KindInternal          Kind = "Internal"
)

// HTTPStatus maps an error kind to the status code returned to callers.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindUnknownCustomer, KindInvalidAmount:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a user-visible error carrying a kind and a message that the
// dashboard displays verbatim.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the human-readable message for err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// InvalidTransition reports a lifecycle edge that does not exist.
func InvalidTransition(entity, id string, current fmt.Stringer, action string) *Error {
	return Errorf(KindInvalidTransition, "cannot %s %s %s in status %s", action, entity, id, current)
}
