// Package apperr defines the error kinds the HTTP boundary knows how to map
// to status codes. Services wrap these with fmt.Errorf("%w"); handlers unwrap
// with errors.As/Is and never expose anything beyond the kind's message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindOutOfStock
	KindUnauthorized
	KindForbidden
	KindInvalidSignature
	KindGateway
)

// Error is a taxonomy error carrying a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// HTTPStatus maps the kind to its boundary status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindOutOfStock, KindInvalidSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func OutOfStock(format string, args ...interface{}) *Error {
	return &Error{Kind: KindOutOfStock, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// InvalidSignature carries a fixed message so responses never hint at which
// part of the signature mismatched.
func InvalidSignature() *Error {
	return &Error{Kind: KindInvalidSignature, Message: "invalid payment signature"}
}

// Gateway wraps an upstream provider failure. The cause stays in logs; the
// client only ever sees the generic message.
func Gateway(err error) *Error {
	return &Error{Kind: KindGateway, Message: "payment gateway unavailable, try again", err: err}
}

// IsKind reports whether err is (or wraps) a taxonomy error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
