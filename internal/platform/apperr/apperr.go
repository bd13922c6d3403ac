// Package apperr defines the typed error vocabulary shared by the billing
// domains and its translation to HTTP responses.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is a domain error with a stable machine readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func State(code, message string) *Error      { return New(KindState, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }

// ErrConcurrentModification is returned when an optimistic version check or a
// serialization failure lost a race. Callers may retry.
var ErrConcurrentModification = Conflict("CONCURRENT_MODIFICATION", "concurrent modification")

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// StatusCode maps a kind to an HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindState, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error envelope returned by the API.
type Body struct {
	Code      string `json:"code"`
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// HTTP converts err into an *echo.HTTPError carrying the error envelope.
// Untyped errors are reported as internal without leaking their text.
func HTTP(err error) *echo.HTTPError {
	if errors.Is(err, context.DeadlineExceeded) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, map[string]Body{
			"error": {Code: "TIMEOUT", Kind: KindInternal, Message: "request timed out", Retryable: true},
		}).SetInternal(err)
	}
	ae, ok := As(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]Body{
			"error": {Code: "INTERNAL", Kind: KindInternal, Message: "internal error"},
		}).SetInternal(err)
	}
	return echo.NewHTTPError(StatusCode(ae.Kind), map[string]Body{
		"error": {Code: ae.Code, Kind: ae.Kind, Message: err.Error(), Retryable: Retryable(err)},
	}).SetInternal(err)
}

// BadRequest builds the envelope for malformed input rejected before it
// reaches a service (unparseable ids, bad JSON, failed struct validation).
func BadRequest(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]Body{
		"error": {Code: "BAD_REQUEST", Kind: KindValidation, Message: message},
	})
}
