package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Structural errors raised by the core
	ErrorTypeTypeMismatch         ErrorType = "TYPE_MISMATCH"
	ErrorTypeDuplicateStepName    ErrorType = "DUPLICATE_STEP_NAME"
	ErrorTypeUnknownStepReference ErrorType = "UNKNOWN_STEP_REFERENCE"
	ErrorTypeDepthExceeded        ErrorType = "DEPTH_EXCEEDED"
	ErrorTypeUnresolvedReference  ErrorType = "UNRESOLVED_REFERENCE"

	// Store errors
	ErrorTypeVersionConflict  ErrorType = "VERSION_CONFLICT"
	ErrorTypeStoreUnavailable ErrorType = "STORE_UNAVAILABLE"

	// Generic errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeInternal     ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func newError(errType ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: status,
	}
}

// NewTypeMismatchError is raised when a relation field holds neither a ref nor an object
func NewTypeMismatchError(field, got string) *AppError {
	return newError(ErrorTypeTypeMismatch, http.StatusBadRequest,
		fmt.Sprintf("relation field '%s' holds %s, expected an entity ref or an object", field, got)).
		WithDetails(map[string]interface{}{"field": field})
}

// NewDuplicateStepNameError creates a duplicate step error
func NewDuplicateStepNameError(name string) *AppError {
	return newError(ErrorTypeDuplicateStepName, http.StatusBadRequest,
		fmt.Sprintf("step '%s' is already declared", name)).
		WithDetails(map[string]interface{}{"step": name})
}

// NewUnknownStepReferenceError creates an unknown step reference error
func NewUnknownStepReferenceError(step, from string) *AppError {
	return newError(ErrorTypeUnknownStepReference, http.StatusBadRequest,
		fmt.Sprintf("step '%s' references '%s' which is not an earlier step", step, from)).
		WithDetails(map[string]interface{}{"step": step, "from": from})
}

// NewDepthExceededError creates a depth exceeded error
func NewDepthExceededError(step string, depth, max int) *AppError {
	return newError(ErrorTypeDepthExceeded, http.StatusBadRequest,
		fmt.Sprintf("step '%s' is %d hops deep, maximum is %d", step, depth, max)).
		WithDetails(map[string]interface{}{"step": step, "depth": depth, "max": max})
}

// NewUnresolvedReferenceError is raised when an edge target is missing from its node hop
func NewUnresolvedReferenceError(step, ref string) *AppError {
	return newError(ErrorTypeUnresolvedReference, http.StatusUnprocessableEntity,
		fmt.Sprintf("edge target %s is missing from step '%s'", ref, step)).
		WithDetails(map[string]interface{}{"step": step, "ref": ref})
}

// NewVersionConflictError creates an optimistic concurrency error
func NewVersionConflictError(refs []string) *AppError {
	return newError(ErrorTypeVersionConflict, http.StatusConflict,
		fmt.Sprintf("stored version is newer for %s", strings.Join(refs, ", "))).
		WithDetails(map[string]interface{}{"refs": refs})
}

// NewStoreUnavailableError creates a transient store error
func NewStoreUnavailableError(operation string, err error) *AppError {
	return newError(ErrorTypeStoreUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("store operation '%s' is unavailable", operation)).WithCause(err)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

// NewUnauthorizedError creates an authentication error
func NewUnauthorizedError(message string) *AppError {
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// Helper functions

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsRetryable reports whether the failed call may be repeated with the same input.
// Only transient store failures qualify.
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeStoreUnavailable)
}

// IsVersionConflict checks if an error is a version conflict
func IsVersionConflict(err error) bool {
	return IsType(err, ErrorTypeVersionConflict)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
