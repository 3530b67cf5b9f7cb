// Package models contains the data structures used throughout the application.
package models

import (
	"errors"
	"fmt"
)

// Common error types for domain-specific errors
var (
	// Plugin lifecycle errors
	ErrPluginNotFound = errors.New("plugin not found")
	ErrPluginExists   = errors.New("plugin already exists")
	ErrPluginDisabled = errors.New("plugin is disabled")
	ErrNoUpdateSource = errors.New("plugin has no update source")

	// ErrLoad indicates the plugin source could not be fetched or read.
	ErrLoad = errors.New("failed to load plugin source")

	// ErrValidation indicates the loaded plugin is missing required
	// operations or declares a reserved or invalid identity.
	ErrValidation = errors.New("plugin validation failed")

	// ErrExecution indicates an exception was thrown while running plugin
	// code, either at load time or during a capability call.
	ErrExecution = errors.New("plugin execution failed")

	// ErrUnsupportedOperation indicates an operation was invoked that the
	// plugin never declared.
	ErrUnsupportedOperation = errors.New("operation not supported by plugin")

	// ErrInvalidResult indicates the plugin returned a shape that cannot be
	// normalized onto the canonical interface.
	ErrInvalidResult = errors.New("plugin returned an invalid result")

	// ErrConnectionTest indicates an explicit or inferred connectivity failure.
	ErrConnectionTest = errors.New("plugin connection test failed")

	// Media errors
	ErrInvalidMediaType    = errors.New("invalid media type")
	ErrMediaCantBeResolved = errors.New("media source could not be resolved")
)

// PluginError attributes a failure to a specific plugin and operation so
// callers can surface it without leaking internal stack structure.
type PluginError struct {
	// PluginID identifies the plugin the failure belongs to.
	PluginID string

	// Op is the operation that failed (e.g. "load", "search").
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns the error message, satisfying the error interface.
func (e *PluginError) Error() string {
	if e.PluginID == "" {
		return fmt.Sprintf("plugin %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s: %v", e.PluginID, e.Op, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewPluginError creates a new PluginError.
func NewPluginError(pluginID, op string, err error) *PluginError {
	return &PluginError{PluginID: pluginID, Op: op, Err: err}
}
