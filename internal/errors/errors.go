package errors

import (
	"errors"
	"fmt"
)

// AppError is the structured error type for rumahcari.
// It provides rich context for error handling, logging, and the API
// error envelope.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Kind is the taxonomy tag surfaced across API boundaries.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with AppError.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AppError with the given code and message.
// Kind, category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an AppError from an existing error.
// The error's message becomes the AppError message.
// If err is already an AppError it is returned unchanged.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return New(code, err.Error(), err)
}

// BadRequest creates a validation error surfaced to the caller as 4xx.
func BadRequest(message string) *AppError {
	return New(ErrCodeInvalidInput, message, nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// UpstreamError creates an upstream-availability error.
// Upstream errors are typically retryable.
func UpstreamError(message string, cause error) *AppError {
	return New(ErrCodeUpstreamUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

// KindOf extracts the taxonomy kind from an error chain.
// Non-AppError values report KindInternal; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain carries an AppError with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an AppError chain.
// Returns empty string if no AppError is present.
func GetCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AppError chain.
// Returns empty string if no AppError is present.
func GetCategory(err error) Category {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
