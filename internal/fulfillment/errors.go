package fulfillment

import (
	"errors"
	"net/http"

	"distribution-order-services/internal/store"
)

// Error carries the HTTP status and machine code a handler should answer with.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

func invalid(message string) *Error {
	return newError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func notFound(message string) *Error {
	return newError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbidden(message string) *Error {
	return newError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func conflict(code, message string) *Error {
	return newError(http.StatusConflict, code, message, nil)
}

func insufficientStock(err error) *Error {
	return newError(http.StatusConflict, "INSUFFICIENT_STOCK", "seller does not have enough stock", err)
}

func upstream(message string, err error) *Error {
	return newError(http.StatusBadGateway, "UPSTREAM_ERROR", message, err)
}

func unauthorized(message string) *Error {
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// AsError maps any error onto the coded form. Unknown errors become 500.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound("not found")
	case errors.Is(err, store.ErrInsufficientStock):
		return insufficientStock(err)
	}
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", err)
}

// Retryable reports whether a background job should try again later.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	fe := AsError(err)
	return fe.Status >= 500
}
