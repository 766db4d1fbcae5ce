// Package apperr provides the typed error taxonomy shared by every component
// of the dispatcher. Every error the framework raises carries a machine
// readable Kind, a human message, and the HTTP status (or transport
// equivalent) a Listener should map it to.
//
// Error Structure:
//   - Kind: machine-readable identifier, matches one row of the Dispatcher's
//     error table (HandlerNotFoundError, ShortCircuitError, ...)
//   - Message: human-readable description
//   - Details: optional wrapped-error context, never a stack trace
//   - StatusCode: HTTP status for RESTful/Web transports
//
// JSON Response Format:
//
//	{
//	  "error": "handler_not_found",
//	  "message": "no handler matched",
//	  "code": "handler_not_found",
//	  "details": "GET /api/unknown"
//	}
package apperr

import (
	"fmt"
	"net/http"
)

// Kind is the machine-readable error identifier.
type Kind string

const (
	KindHandlerNotFound      Kind = "handler_not_found"
	KindShortCircuit         Kind = "short_circuit"
	KindDependencyUnresolved Kind = "dependency_unresolved"
	KindCircularDependency   Kind = "circular_dependency"
	KindSchemaValidation     Kind = "schema_validation"
	KindConnectorIO          Kind = "connector_io"
	KindInternal             Kind = "internal"
	KindBadRequest           Kind = "bad_request"
)

// Error is a standardized application error with transport context.
type Error struct {
	Kind       Kind   `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`

	// wrapped is the underlying cause, if any. Not rendered to clients;
	// exposed only through Unwrap so errors.Is/As keep working.
	wrapped error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/As see through to a wrapped Details string's origin
// error when constructed via Wrap.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// ErrorResponse is the JSON body written for RESTful/Web error responses.
// No stack traces are ever included.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ToResponse converts an Error to its wire representation.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   string(e.Kind),
		Message: e.Message,
		Code:    string(e.Kind),
		Details: e.Details,
	}
}

func statusFor(k Kind) int {
	switch k {
	case KindHandlerNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindSchemaValidation:
		return http.StatusBadRequest
	case KindShortCircuit:
		return http.StatusOK
	case KindDependencyUnresolved, KindCircularDependency, KindInternal, KindConnectorIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusFor(kind)}
}

// Wrap wraps an underlying error, preserving its message as Details.
func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	if err != nil {
		e.Details = err.Error()
		e.wrapped = err
	}
	return e
}

// HandlerNotFound builds the spec §4.6 HandlerNotFoundError.
func HandlerNotFound(detail string) *Error {
	return &Error{Kind: KindHandlerNotFound, Message: "no handler matched the request", Details: detail, StatusCode: http.StatusNotFound}
}

// ShortCircuit builds the spec §4.6 ShortCircuitError. The pipeline stops
// without further processing; the response already set on the context is
// flushed as-is.
func ShortCircuit(reason string) *Error {
	return &Error{Kind: KindShortCircuit, Message: reason, StatusCode: http.StatusOK}
}

// Unresolved builds the spec §4.1 DependencyUnresolvedError naming the type.
func Unresolved(typeName string) *Error {
	return &Error{
		Kind:       KindDependencyUnresolved,
		Message:    fmt.Sprintf("unable to resolve dependency of type %s", typeName),
		StatusCode: http.StatusInternalServerError,
	}
}

// Circular builds the spec §4.1 CircularDependencyError naming the cycle.
func Circular(stack []string) *Error {
	return &Error{
		Kind:       KindCircularDependency,
		Message:    "circular dependency detected",
		Details:    fmt.Sprintf("%v", stack),
		StatusCode: http.StatusInternalServerError,
	}
}

// SchemaValidation builds the spec §7 SchemaValidationError.
func SchemaValidation(message string) *Error {
	return &Error{Kind: KindSchemaValidation, Message: message, StatusCode: http.StatusBadRequest}
}

// ConnectorIO wraps a connector-level I/O failure surfaced after retries are
// exhausted.
func ConnectorIO(component string, err error) *Error {
	return Wrap(KindConnectorIO, fmt.Sprintf("%s connector I/O failure", component), err)
}

// Internal builds a generic internal-server error, used for any unhandled
// exception the Dispatcher intercepts.
func Internal(err error) *Error {
	return Wrap(KindInternal, "internal", err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
