package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/scenepipe/scenepipe/pkg/envs"
)

// ErrorClass represents the classification of a failure and decides the process exit code.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates bad input or setup detected before or instead of
	// launching a tool. Examples: missing artifact, unknown runtime, camera count != 1.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassExternal indicates an external tool exited with a non-zero status.
	ErrorClassExternal ErrorClass = "external"

	// ErrorClassConflict indicates an on-disk conflict, e.g. an alias that already exists.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassInterrupted indicates the run was interrupted by the operator.
	ErrorClassInterrupted ErrorClass = "interrupted"

	// ErrorClassInternal indicates a failure of this program itself.
	ErrorClassInternal ErrorClass = "internal"
)

// Exit codes for non-external failures.
const (
	ExitCodeFailure     = 1
	ExitCodeInterrupted = 130
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

	// Stage is the stage ID that failed, if applicable.
	Stage string `json:"stage,omitempty"`

	// Path is the file-system path involved, if applicable.
	Path string `json:"path,omitempty"`

	// ExitCode is the child exit code for external failures.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Stage != "" {
		msg += fmt.Sprintf(" (stage=%s)", e.Stage)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
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

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewExternalError creates an error for a tool that exited with exitCode.
func NewExternalError(message string, exitCode int) *EngineError {
	return &EngineError{
		Class:    ErrorClassExternal,
		Message:  message,
		Code:     ErrCodeToolFailed,
		ExitCode: exitCode,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Code:    ErrCodeAlreadyExists,
		Err:     err,
	}
}

// NewInterruptedError creates a new interrupted error.
func NewInterruptedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInterrupted,
		Message: message,
		Code:    ErrCodeInterrupted,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithStage adds stage context to an error.
func (e *EngineError) WithStage(stageID string) *EngineError {
	e.Stage = stageID
	return e
}

// WithPath adds path context to an error.
func (e *EngineError) WithPath(path string) *EngineError {
	e.Path = path
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return classOf(err) == ErrorClassConfiguration
}

// IsExternal returns true if the error is classified as an external tool failure.
func IsExternal(err error) bool {
	return classOf(err) == ErrorClassExternal
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return classOf(err) == ErrorClassConflict
}

// IsInterrupted returns true if the error is classified as an interruption.
func IsInterrupted(err error) bool {
	return classOf(err) == ErrorClassInterrupted
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Classify converts any error into an EngineError. Errors that are already classified
// are returned unchanged.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewInterruptedError("interrupted", err)
	case errors.Is(err, fs.ErrExist):
		return NewConflictError("file-system conflict", err)
	case errors.Is(err, fs.ErrNotExist):
		return NewConfigurationError("required artifact missing", err).WithCode(ErrCodeNotFound)
	case errors.Is(err, envs.ErrUnknownRuntime),
		errors.Is(err, envs.ErrUnknownProfile),
		errors.Is(err, envs.ErrMissingSetting),
		errors.Is(err, envs.ErrEmptyCommand):
		return NewConfigurationError("invalid environment", err)
	default:
		return NewInternalError("unexpected failure", err)
	}
}

// ExitCode maps an error to the process exit code. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e := Classify(err)
	switch e.Class {
	case ErrorClassExternal:
		if e.ExitCode != 0 {
			return e.ExitCode
		}
		return ExitCodeFailure
	case ErrorClassInterrupted:
		return ExitCodeInterrupted
	default:
		return ExitCodeFailure
	}
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeToolFailed    = "TOOL_FAILED"
	ErrCodeToolNotFound  = "TOOL_NOT_FOUND"
	ErrCodeInterrupted   = "INTERRUPTED"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeInvalidPose   = "INVALID_POSE"
	ErrCodeCameraCount   = "CAMERA_COUNT"
)
