// Package apperr defines the error taxonomy shared by the checkout packages
// and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindConflict           Kind = "conflict"
	KindGatewayFailure     Kind = "gateway_failure"
	KindPersistenceFailure Kind = "persistence_failure"
)

// Error carries a Kind plus a caller-safe message. Err, when set, is the
// underlying cause and is reachable through errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two taxonomy errors of the same kind and message,
// which is what package-level sentinels rely on.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func InvalidInput(msg string) *Error { return New(KindInvalidInput, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }

func Gateway(msg string, err error) *Error {
	return &Error{Kind: KindGatewayFailure, Message: msg, Err: err}
}

func Persistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistenceFailure, Message: msg, Err: err}
}

// Wrap attaches a cause to a sentinel while keeping its kind and message,
// so errors.Is(result, sentinel) still holds.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Err: err}
}

// KindOf classifies err. Errors outside the taxonomy are downstream store
// failures and classify as persistence failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPersistenceFailure
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindGatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
