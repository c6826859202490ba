package errors

import (
	"errors"
	"fmt"
)

// Error types for different failure classes
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeCapability     ErrorType = "CAPABILITY_ERROR"
	ErrorTypeInfrastructure ErrorType = "INFRASTRUCTURE_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeConflict       ErrorType = "CONFLICT_ERROR"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
)

// Common errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// Mapping-layer errors
var (
	ErrInvalidSchema    = errors.New("invalid collection schema")
	ErrInvalidID        = errors.New("invalid document id")
	ErrInvalidPath      = errors.New("invalid document path")
	ErrInvalidFieldPath = errors.New("invalid field path")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrUnsupported      = errors.New("operation not supported by backend")
	ErrUnreachable      = errors.New("unreachable: unrecognized variant")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's type, so a conflict or not-found
// error keeps matching after WithCause swaps in the backend's own error.
func (e *AppError) Is(target error) bool {
	switch e.Type {
	case ErrorTypeConflict:
		return target == ErrConflict
	case ErrorTypeNotFound:
		return target == ErrNotFound
	}
	return false
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message)
}

// NewInfrastructureError creates an infrastructure error
func NewInfrastructureError(message string) *AppError {
	return NewAppError(ErrorTypeInfrastructure, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource)).WithCause(ErrNotFound)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, message).WithCause(ErrConflict)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message)
}

// NewCapabilityError reports a constraint or operator the named backend cannot express.
func NewCapabilityError(backend, operation string) *AppError {
	return NewAppError(ErrorTypeCapability, fmt.Sprintf("%s backend does not support %s", backend, operation)).
		WithCause(ErrUnsupported).
		WithComponent(backend).
		WithDetail("operation", operation)
}

// NewUnreachableError reports a tagged value whose tag no switch recognised.
func NewUnreachableError(kind string, value interface{}) *AppError {
	return NewAppError(ErrorTypeInternal, fmt.Sprintf("unrecognized %s %#v", kind, value)).
		WithCause(ErrUnreachable).
		WithDetail("kind", kind).
		WithDetail("value", value)
}

// Helper functions for common error scenarios

// WrapError wraps an error with context, keeping existing AppErrors intact
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound) || errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return isType(err, ErrorTypeConflict) || errors.Is(err, ErrConflict)
}

// IsCapability checks if an error reports an unsupported backend capability
func IsCapability(err error) bool {
	return isType(err, ErrorTypeCapability) || errors.Is(err, ErrUnsupported)
}

// IsUnreachable checks if an error reports an unrecognized tagged variant
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// Is and As re-export the standard library helpers so callers need a single import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
