// Package errors provides coded application errors for the CareerFly core.
package errors

import "fmt"

// ErrorCode identifies a class of failure surfaced to callers and the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Store errors
	ErrStoreOpen ErrorCode = "STORE_OPEN_FAILED"
	ErrStoreOp   ErrorCode = "STORE_OP_FAILED"
	ErrMigration ErrorCode = "MIGRATION_FAILED"
	ErrWipe      ErrorCode = "WIPE_FAILED"

	// Sync errors
	ErrSyncPush       ErrorCode = "SYNC_PUSH_FAILED"
	ErrSyncPull       ErrorCode = "SYNC_PULL_FAILED"
	ErrSyncNotRunning ErrorCode = "SYNC_NOT_RUNNING"

	// Export errors
	ErrExport ErrorCode = "EXPORT_FAILED"
)

// AppError is an error with a stable code, a human message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
