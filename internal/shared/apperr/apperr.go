package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies an error so boundaries (REST, websocket) can map it to a
// response without inspecting messages.
type Kind string

const (
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindUnauthorized Kind = "Unauthorized"
	KindForbidden    Kind = "Forbidden"
	KindValidation   Kind = "ValidationError"
	KindStore        Kind = "StoreError"
	KindInternal     Kind = "InternalError"
)

// Error is the structured error carried across subsystem boundaries.
// Details is only populated for validation failures: one entry per
// offending field or positional argument.
type Error struct {
	Kind    Kind
	Source  string
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an error of the given kind originating from source.
func New(kind Kind, source, message string) *Error {
	return &Error{Kind: kind, Source: source, Message: message}
}

// Wrap attaches classification to an underlying error, keeping it reachable
// through errors.Unwrap.
func Wrap(kind Kind, source string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Source: source, Message: cause.Error(), cause: cause}
}

// Validation builds a validation error with per-field details.
func Validation(source, message string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Source: source, Message: message, Details: details}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// StatusCode maps an error to the HTTP status the REST boundary responds with.
func StatusCode(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return fiber.StatusInternalServerError
	}
	switch ae.Kind {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindConflict:
		return fiber.StatusConflict
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindValidation:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// Body is the JSON shape REST clients receive for a failed request.
type Body struct {
	Kind    Kind              `json:"kind"`
	Source  string            `json:"source,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ResponseBody builds the structured error body for err.
func ResponseBody(err error) Body {
	var ae *Error
	if !errors.As(err, &ae) {
		return Body{Kind: KindInternal, Message: err.Error()}
	}
	return Body{Kind: ae.Kind, Source: ae.Source, Message: ae.Message, Details: ae.Details}
}
