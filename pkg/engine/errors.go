package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for reporting and exit handling.
type ErrorClass string

const (
	// ErrorClassConfig indicates a malformed or rejected project definition.
	// Fatal before any planning happens.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassExecution indicates a single action failed.
	// Recorded on the action and contained to its project.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassState indicates the snapshot could not be persisted.
	ErrorClassState ErrorClass = "state"

	// ErrorClassService indicates a service-manager-level failure such as daemon-reload.
	// Fatal to the start bucket for the whole run.
	ErrorClassService ErrorClass = "service"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Project is the project name that caused the error, if applicable.
	Project string `json:"project,omitempty"`

	// Path is the definition or state file involved, if applicable.
	Path string `json:"path,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Project != "" {
		msg = fmt.Sprintf("%s (project=%s)", msg, e.Project)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfig,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassExecution,
		Code:    ErrCodeActionFailed,
		Message: message,
		Err:     err,
	}
}

// NewStateError creates a new state persistence error.
func NewStateError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassState,
		Code:    ErrCodeStateWrite,
		Message: message,
		Err:     err,
	}
}

// NewServiceError creates a new service manager error.
func NewServiceError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassService,
		Code:    ErrCodeDaemonReload,
		Message: message,
		Err:     err,
	}
}

// WithProject adds project context to an error.
func (e *EngineError) WithProject(name string) *EngineError {
	e.Project = name
	return e
}

// WithPath adds file path context to an error.
func (e *EngineError) WithPath(path string) *EngineError {
	e.Path = path
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func isClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsConfig returns true if the error is classified as a configuration error.
func IsConfig(err error) bool {
	return isClass(err, ErrorClassConfig)
}

// IsExecution returns true if the error is classified as an execution error.
func IsExecution(err error) bool {
	return isClass(err, ErrorClassExecution)
}

// IsState returns true if the error is classified as a state error.
func IsState(err error) bool {
	return isClass(err, ErrorClassState)
}

// IsService returns true if the error is classified as a service manager error.
func IsService(err error) bool {
	return isClass(err, ErrorClassService)
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeDuplicate       = "DUPLICATE_PROJECT"
	ErrCodePolicyViolation = "POLICY_VIOLATION"
	ErrCodeActionFailed    = "ACTION_FAILED"
	ErrCodeSpawnFailed     = "SPAWN_FAILED"
	ErrCodeStateWrite      = "STATE_WRITE_FAILED"
	ErrCodeDaemonReload    = "DAEMON_RELOAD_FAILED"
)
