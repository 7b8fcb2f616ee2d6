package errors

import (
	"errors"
	"fmt"
)

// PodError is the structured error type for podrag.
// It carries enough context for logging, CLI output and API responses.
type PodError struct {
	// Code is the unique error code (e.g., "ERR_304_STORE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
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
func (e *PodError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PodError) Unwrap() error {
	return e.Cause
}

// Is matches another PodError by code.
func (e *PodError) Is(target error) bool {
	if t, ok := target.(*PodError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *PodError) WithDetail(key, value string) *PodError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *PodError) WithSuggestion(suggestion string) *PodError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PodError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *PodError {
	return &PodError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PodError from an existing error, reusing its message.
func Wrap(code string, err error) *PodError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *PodError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *PodError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *PodError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// StoreUnavailable reports that the document store could not serve a request.
func StoreUnavailable(message string, cause error) *PodError {
	return New(ErrCodeStoreUnavailable, message, cause).
		WithSuggestion("Check that the search store is running and reachable, then run 'podrag doctor'")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *PodError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *PodError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether any PodError in the chain is retryable.
func IsRetryable(err error) bool {
	var pe *PodError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var pe *PodError
	if errors.As(err, &pe) {
		return pe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first PodError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var pe *PodError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// GetCategory extracts the category from the first PodError in the chain.
func GetCategory(err error) Category {
	var pe *PodError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}
