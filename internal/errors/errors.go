package errors

import (
	"errors"
	"fmt"
)

// ScopyError is the structured error type for the Scopy core.
// It provides context for error handling, logging, and user presentation.
type ScopyError struct {
	// Code is the unique error code (e.g., "ERR_201_STORE_CORRUPTED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Index, Query, Internal).
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
func (e *ScopyError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ScopyError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ScopyError.
func (e *ScopyError) Is(target error) bool {
	if t, ok := target.(*ScopyError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ScopyError) WithDetail(key, value string) *ScopyError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *ScopyError) WithSuggestion(suggestion string) *ScopyError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ScopyError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ScopyError {
	return &ScopyError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ScopyError from an existing error.
// The error's message becomes the ScopyError message.
func Wrap(code string, err error) *ScopyError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// CorruptedStore creates a fatal store-corruption error.
// The writer must refuse further mutations after seeing one of these.
func CorruptedStore(message string, cause error) *ScopyError {
	return New(ErrCodeStoreCorrupted, message, cause).
		WithSuggestion("delete the store file and let the next launch rebuild it")
}

// InvalidQuery creates a query validation error (e.g. malformed regex).
func InvalidQuery(message string, cause error) *ScopyError {
	return New(ErrCodeInvalidQuery, message, cause)
}

// QueryTimeout creates a timeout error for a search that exceeded its deadline.
func QueryTimeout(message string, cause error) *ScopyError {
	return New(ErrCodeQueryTimeout, message, cause)
}

// IndexStale creates an internal staleness error that triggers a rebuild.
// Never surfaced to callers.
func IndexStale(message string) *ScopyError {
	return New(ErrCodeIndexStale, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ScopyError {
	return New(ErrCodeInternal, message, cause)
}

// IsCorrupted reports whether err carries the store corruption code.
func IsCorrupted(err error) bool {
	return hasCode(err, ErrCodeStoreCorrupted) || hasCode(err, ErrCodeMigrationFailed)
}

// IsInvalidQuery reports whether err is a query validation error.
func IsInvalidQuery(err error) bool {
	return hasCode(err, ErrCodeInvalidQuery)
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeQueryTimeout)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var se *ScopyError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var se *ScopyError
	if errors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a ScopyError.
// Returns empty string if not a ScopyError.
func GetCode(err error) string {
	var se *ScopyError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a ScopyError.
// Returns empty string if not a ScopyError.
func GetCategory(err error) Category {
	var se *ScopyError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

func hasCode(err error, code string) bool {
	var se *ScopyError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
