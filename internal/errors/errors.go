// Package errors provides standardized error types for the procmux session
// server. This enables consistent error handling, categorization, and
// user-facing messages across the session API.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error categories
type ErrorCode string

const (
	// Validation errors: nothing was allocated.
	ErrCodeCommandInvalid  ErrorCode = "COMMAND_INVALID"
	ErrCodeCommandEmpty    ErrorCode = "COMMAND_EMPTY"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"

	// Policy and admission denials: nothing was allocated.
	ErrCodePolicyDenied      ErrorCode = "POLICY_DENIED"
	ErrCodeSessionCapReached ErrorCode = "SESSION_CAP_REACHED"
	ErrCodeWorkspaceEscape   ErrorCode = "WORKSPACE_ESCAPE"
	ErrCodeWorkspaceUnusable ErrorCode = "WORKSPACE_UNUSABLE"

	// Spawn failures: the durable row and log files are retained.
	ErrCodeCommandNotFound ErrorCode = "COMMAND_NOT_FOUND"
	ErrCodeSpawnFailed     ErrorCode = "SPAWN_FAILED"

	// Session lookup errors.
	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionNotRunning ErrorCode = "SESSION_NOT_RUNNING"

	// Runtime errors.
	ErrCodeStdinWriteFailed ErrorCode = "STDIN_WRITE_FAILED"
	ErrCodeDatabaseError    ErrorCode = "DATABASE_ERROR"
	ErrCodeFileSystemError  ErrorCode = "FILESYSTEM_ERROR"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// SessionError is the standardized error type for the application
type SessionError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Cause      error          `json:"-"`
	Retryable  bool           `json:"retryable"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *SessionError) WithContext(key string, value any) *SessionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for the user
func (e *SessionError) WithSuggestion(suggestion string) *SessionError {
	e.Suggestion = suggestion
	return e
}

// WithDetails adds detailed information
func (e *SessionError) WithDetails(details string) *SessionError {
	e.Details = details
	return e
}

// New creates a new SessionError
func New(code ErrorCode, message string) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(cause error, code ErrorCode, message string) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is checks if the error matches the given error code
func Is(err error, code ErrorCode) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Retryable
	}
	return false
}

// --- Convenience constructors for common errors ---

// CommandInvalid creates a command parse failure error
func CommandInvalid(cause error) *SessionError {
	return Wrap(cause, ErrCodeCommandInvalid, "failed to parse command").
		WithSuggestion("Check shell quoting in the command string")
}

// CommandEmpty creates an empty command error
func CommandEmpty() *SessionError {
	return New(ErrCodeCommandEmpty, "empty command after parsing")
}

// PolicyDenied creates a policy denial error carrying the engine's reason
func PolicyDenied(reason, riskTier string) *SessionError {
	return New(ErrCodePolicyDenied, fmt.Sprintf("blocked by execution policy: %s", reason)).
		WithContext("risk_tier", riskTier)
}

// SessionCapReached creates an admission denial error
func SessionCapReached(max int) *SessionError {
	return New(ErrCodeSessionCapReached, fmt.Sprintf("max concurrent sessions reached (%d)", max)).
		WithContext("max_sessions", max).
		WithSuggestion("Terminate one session first")
}

// WorkspaceEscape creates a path containment violation error
func WorkspaceEscape(path string) *SessionError {
	return New(ErrCodeWorkspaceEscape, "log path resolves outside workspace root").
		WithContext("path", path)
}

// CommandNotFound creates a spawn failure error for a missing binary
func CommandNotFound(command string) *SessionError {
	return New(ErrCodeCommandNotFound, fmt.Sprintf("command not found: %s", command)).
		WithContext("command", command)
}

// SpawnFailed creates a generic spawn failure error
func SpawnFailed(cause error) *SessionError {
	return Wrap(cause, ErrCodeSpawnFailed, "failed to start session")
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *SessionError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID)).
		WithContext("session_id", sessionID).
		WithSuggestion("Use list_sessions to see known sessions")
}

// SessionNotRunning creates an error for operations requiring a live process
func SessionNotRunning(sessionID, status string) *SessionError {
	return New(ErrCodeSessionNotRunning, fmt.Sprintf("session status is %s", status)).
		WithContext("session_id", sessionID).
		WithContext("status", status)
}

// StdinWriteFailed creates a stdin write failure error
func StdinWriteFailed(cause error, sessionID string) *SessionError {
	err := Wrap(cause, ErrCodeStdinWriteFailed, "stdin write failed").
		WithContext("session_id", sessionID)
	err.Retryable = true
	return err
}

// DatabaseError creates a database error
func DatabaseError(cause error, operation string) *SessionError {
	return Wrap(cause, ErrCodeDatabaseError, fmt.Sprintf("database operation failed: %s", operation)).
		WithContext("operation", operation)
}

// FileSystemError creates a filesystem error
func FileSystemError(cause error, path string) *SessionError {
	return Wrap(cause, ErrCodeFileSystemError, "filesystem operation failed").
		WithContext("path", path).
		WithSuggestion("Check file permissions and disk space")
}

// InternalError creates an internal error
func InternalError(cause error, details string) *SessionError {
	return Wrap(cause, ErrCodeInternal, "internal error occurred").
		WithDetails(details)
}
