package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Orchestration error codes
const (
	ErrValidation       ErrorCode = "VALIDATION"
	ErrTransientTask    ErrorCode = "TRANSIENT_TASK"
	ErrPermanentTask    ErrorCode = "PERMANENT_TASK"
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrPersistence      ErrorCode = "PERSISTENCE"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrFeedbackNotFound ErrorCode = "FEEDBACK_NOT_FOUND"
	ErrRunNotFound      ErrorCode = "RUN_NOT_FOUND"
	ErrAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	ErrRunCancelled     ErrorCode = "RUN_CANCELLED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	TaskType  TaskType  `json:"task_type,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
// Transient and timeout failures are retryable by default.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code == ErrTransientTask || code == ErrTimeout,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithTaskType sets the originating task type.
func (e *Error) WithTaskType(t TaskType) *Error {
	e.TaskType = t
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable, unwrapping as needed.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
