// Package errors classifies request failures so the HTTP layer can answer
// with a consistent status code, JSON body, log level, and metric label.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorType is the category of a failure. It doubles as the metric label
// and the "type" field of the response body.
type ErrorType string

const (
	TypeValidation ErrorType = "validation" // malformed input
	TypeNotFound   ErrorType = "not_found"  // unknown poll
	TypeConflict   ErrorType = "conflict"   // e.g. a second vote from one session
	TypeRejected   ErrorType = "rejected"   // well-formed but not acceptable
	TypeInternal   ErrorType = "internal"   // bug or unclassified failure
	TypeExternal   ErrorType = "external"   // redis or the durable store unavailable
)

type typeInfo struct {
	status   int
	level    slog.Level
	logTitle string
}

var types = map[ErrorType]typeInfo{
	TypeValidation: {http.StatusBadRequest, slog.LevelInfo, "Validation error"},
	TypeNotFound:   {http.StatusNotFound, slog.LevelInfo, "Not found"},
	TypeConflict:   {http.StatusConflict, slog.LevelInfo, "Conflict"},
	TypeRejected:   {http.StatusUnprocessableEntity, slog.LevelInfo, "Rejected"},
	TypeInternal:   {http.StatusInternalServerError, slog.LevelError, "Internal error"},
	TypeExternal:   {http.StatusServiceUnavailable, slog.LevelError, "Dependency unavailable"},
}

func (t ErrorType) info() typeInfo {
	if info, ok := types[t]; ok {
		return info
	}
	return types[TypeInternal]
}

// typeForStatus is the reverse of types, used for errors raised by echo
// itself. Statuses without an entry are internal.
func typeForStatus(status int) ErrorType {
	if status == http.StatusBadGateway {
		return TypeExternal
	}
	for t, info := range types {
		if info.status == status {
			return t
		}
	}
	return TypeInternal
}

// Error is a classified failure. Message is shown to clients; Cause is only
// logged.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error   { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error   { return newError(TypeConflict, message, nil) }
func RejectedError(message string) *Error   { return newError(TypeRejected, message, nil) }

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) HTTPStatus() int { return e.Type.info().status }

// WithContext attaches a field that is both logged and returned to the client.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns the *Error in err's chain, or wraps err as an
// internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return InternalError("internal server error", err)
}
