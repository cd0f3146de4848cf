package apperr

import (
	"errors"
	"fmt"
)

// #region app-error
// AppError is a coded error surfaced to the CLI.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// #endregion app-error

// #region codes
const (
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeCollaborator   = "COLLABORATOR_FAILED"
	CodeIO             = "IO_FAILED"
	CodeInternal       = "INTERNAL_ERROR"
)

// #endregion codes

// #region constructors
// New creates an AppError without a cause.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a message to err. The code of an existing AppError is kept.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	code := CodeInternal
	var appErr *AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode wraps err under the given code.
func WithCode(code string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

func ConfigInvalid(format string, args ...interface{}) *AppError {
	return New(CodeConfigInvalid, fmt.Sprintf(format, args...))
}

func NotImplemented(format string, args ...interface{}) *AppError {
	return New(CodeNotImplemented, fmt.Sprintf(format, args...))
}

// Collaborator marks a failure reported by the external loader or evaluator.
func Collaborator(op string, cause error) error {
	return WithCode(CodeCollaborator, cause, op)
}

// IO marks a failure writing run artifacts.
func IO(op string, cause error) error {
	return WithCode(CodeIO, cause, op)
}

// #endregion constructors

// #region inspection
// Code returns the outermost AppError code in err's chain, or "" if none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// ExitCode maps an error to a process exit status.
// Startup errors exit 2, everything else exits 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch Code(err) {
	case CodeConfigInvalid, CodeNotImplemented:
		return 2
	default:
		return 1
	}
}

// #endregion inspection
