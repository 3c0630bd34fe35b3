package types

import "fmt"

// ErrorCode represents a unified error code across the coordination engine.
type ErrorCode string

// Worker error codes
const (
	ErrWorkerNotFound   ErrorCode = "WORKER_NOT_FOUND"
	ErrWorkerOffline    ErrorCode = "WORKER_OFFLINE"
	ErrWorkerBusy       ErrorCode = "WORKER_BUSY"
	ErrNoEligibleWorker ErrorCode = "NO_ELIGIBLE_WORKER"
)

// Task error codes
const (
	ErrTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
	ErrTaskTerminal      ErrorCode = "TASK_TERMINAL"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrInvalidPriority   ErrorCode = "INVALID_PRIORITY"
)

// Handoff error codes
const (
	ErrHandoffTargetNotFound ErrorCode = "HANDOFF_TARGET_NOT_FOUND"
	ErrHandoffNotAssigned    ErrorCode = "HANDOFF_NOT_ASSIGNED"
	ErrInvalidRulePattern    ErrorCode = "INVALID_RULE_PATTERN"
	ErrUnknownCondition      ErrorCode = "UNKNOWN_CONDITION"
)

// Infrastructure error codes
const (
	ErrSchedulerStopped ErrorCode = "SCHEDULER_STOPPED"
	ErrStoreClosed      ErrorCode = "STORE_CLOSED"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	WorkerID   string    `json:"worker_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
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
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithWorker attaches the worker id the error relates to.
func (e *Error) WithWorker(workerID string) *Error {
	e.WorkerID = workerID
	return e
}

// WithTask attaches the task id the error relates to.
func (e *Error) WithTask(taskID string) *Error {
	e.TaskID = taskID
	return e
}

// WithHTTPStatus sets an explicit HTTP status for API responses.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
