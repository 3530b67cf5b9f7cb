// Package utils provides utility functions used throughout the application.
package utils

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

// Common error types
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrBadRequest     = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrConflict       = errors.New("resource conflict")
	ErrValidation     = errors.New("validation error")
)

// AppError represents an application error with context.
// It implements the error interface and can be used to provide
// additional information about an error.
type AppError struct {
	// Original is the underlying error that caused this error
	Original error
	// Message is a human-readable error message
	Message string
	// Code is the HTTP status code that should be returned
	Code int
	// Details contains additional error context
	Details map[string]any
}

// Error returns the error message, satisfying the error interface.
func (e *AppError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Original)
	}
	return e.Message
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Original
}

// WithDetails adds context to the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	maps.Copy(e.Details, details)
	return e
}

// AddDetail adds a single detail to the error.
func (e *AppError) AddDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewAppError creates a new AppError.
func NewAppError(err error, message string, code int) *AppError {
	return &AppError{
		Original: err,
		Message:  message,
		Code:     code,
		Details:  make(map[string]any),
	}
}

// NotFoundError creates a new 404 Not Found error.
func NotFoundError(message string, err error) *AppError {
	if message == "" {
		message = "Resource not found"
	}
	return NewAppError(err, message, http.StatusNotFound)
}

// UnauthorizedError creates a new 401 Unauthorized error.
func UnauthorizedError(message string, err error) *AppError {
	if message == "" {
		message = "Unauthorized access"
	}
	return NewAppError(err, message, http.StatusUnauthorized)
}

// BadRequestError creates a new 400 Bad Request error.
func BadRequestError(message string, err error) *AppError {
	if message == "" {
		message = "Invalid request"
	}
	return NewAppError(err, message, http.StatusBadRequest)
}

// InternalServerError creates a new 500 Internal Server Error.
func InternalServerError(message string, err error) *AppError {
	if message == "" {
		message = "Internal server error"
	}
	return NewAppError(err, message, http.StatusInternalServerError)
}

// ConflictError creates a new 409 Conflict error.
func ConflictError(message string, err error) *AppError {
	if message == "" {
		message = "Resource conflict"
	}
	return NewAppError(err, message, http.StatusConflict)
}

// ValidationError creates a new 422 Unprocessable Entity error.
func ValidationError(message string, err error) *AppError {
	if message == "" {
		message = "Validation error"
	}
	return NewAppError(err, message, http.StatusUnprocessableEntity)
}

// IsNotFound checks if an error is a "not found" error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == http.StatusNotFound
	}
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a "conflict" error.
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == http.StatusConflict
	}
	return errors.Is(err, ErrConflict)
}
