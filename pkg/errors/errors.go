package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError. It is also the `type` field of relay
// error envelopes, so values are part of the wire protocol.
type ErrorType string

const (
	// Caller errors: retrying the same request cannot succeed
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeLimit        ErrorType = "LIMIT"

	// Lifecycle errors
	ErrorTypeInternal ErrorType = "INTERNAL"
	ErrorTypeClosed   ErrorType = "CLOSED"

	// Dependency errors: the relay, Redis, DynamoDB or EventBridge failed
	ErrorTypeNetwork  ErrorType = "NETWORK"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeUnauthorized: http.StatusUnauthorized,
	ErrorTypeLimit:        http.StatusTooManyRequests,
	ErrorTypeInternal:     http.StatusInternalServerError,
	ErrorTypeClosed:       http.StatusServiceUnavailable,
	ErrorTypeNetwork:      http.StatusBadGateway,
	ErrorTypeExternal:     http.StatusBadGateway,
}

// AppError is the error type shared by the engines, the channel and the relay
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func newError(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, HTTPStatus: statusByType[t]}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode sets a machine-readable code, e.g. "forbidden_type"
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails attaches structured context for the error response
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause records the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewValidationError reports malformed input: a bad payload, an unknown
// node, a dangling or self-referencing edge
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, message)
}

// NewNotFoundError reports a missing resource
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewUnauthorizedError reports a missing, invalid or expired token
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(ErrorTypeUnauthorized, message)
}

// NewLimitError reports a per-user or per-room limit being exceeded
func NewLimitError(limit string, max int) *AppError {
	return newError(ErrorTypeLimit, fmt.Sprintf("%s limit of %d exceeded", limit, max))
}

func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, message)
}

// NewClosedError reports use of a component after it was closed or disposed
func NewClosedError(component string) *AppError {
	return newError(ErrorTypeClosed, fmt.Sprintf("%s is closed", component))
}

// NewNetworkError reports a transport failure talking to the relay
func NewNetworkError(message string, err error) *AppError {
	return newError(ErrorTypeNetwork, message).WithCause(err)
}

// NewExternalError reports a failing backing service
func NewExternalError(service string, err error) *AppError {
	return newError(ErrorTypeExternal, fmt.Sprintf("external service '%s' error", service)).WithCause(err)
}

// GetAppError returns the first AppError in err's chain, or nil
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

func IsUnauthorized(err error) bool {
	return IsType(err, ErrorTypeUnauthorized)
}

func IsClosed(err error) bool {
	return IsType(err, ErrorTypeClosed)
}

// IsPermanent reports whether retrying cannot help: caller errors and
// closed components. Plain errors are assumed transient.
func IsPermanent(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeUnauthorized, ErrorTypeLimit, ErrorTypeClosed:
		return true
	}
	return false
}

// StatusOf maps err to an HTTP status, 500 for anything that is not an AppError
func StatusOf(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Wrap prefixes err's message with context. AppErrors keep their type;
// anything else becomes an internal error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}
