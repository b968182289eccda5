package errors

import (
	stderrors "errors"
	"fmt"
)

// DocError is the structured error type for docsearch.
// It carries enough context for retry decisions, logging, and CLI display.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_302_FETCH_NETWORK").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DocError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is matches another DocError by code, so sentinels work with errors.Is.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DocError) WithDetail(key, value string) *DocError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocError) WithSuggestion(suggestion string) *DocError {
	e.Suggestion = suggestion
	return e
}

// New creates a DocError. Category, severity, and the retryable flag
// are derived from the code.
func New(code string, message string, cause error) *DocError {
	return &DocError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocError from an existing error.
func Wrap(code string, err error) *DocError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrRateLimited         = New(ErrCodeFetchRateLimited, "rate limited", nil)
	ErrNetwork             = New(ErrCodeFetchNetwork, "network failure", nil)
	ErrNotFound            = New(ErrCodeFetchNotFound, "document not found", nil)
	ErrUnauthorized        = New(ErrCodeFetchUnauthorized, "unauthorized", nil)
	ErrMalformed           = New(ErrCodeParseMalformed, "malformed document", nil)
	ErrStrategyUnavailable = New(ErrCodeStrategyUnavailable, "chunking strategy unavailable", nil)
	ErrEmbedUnavailable    = New(ErrCodeEmbedUnavailable, "embedding backend unavailable", nil)
	ErrStoreFailed         = New(ErrCodeStoreFailed, "store operation failed", nil)
	ErrIndexLocked         = New(ErrCodeIndexLocked, "index is locked by another run", nil)
	ErrQueryEmpty          = New(ErrCodeQueryEmpty, "query is empty", nil)
	ErrConfigInvalid       = New(ErrCodeConfigInvalid, "invalid configuration", nil)
)

// RateLimited creates a retryable rate-limit error.
func RateLimited(message string, cause error) *DocError {
	return New(ErrCodeFetchRateLimited, message, cause).
		WithSuggestion("Set GITHUB_TOKEN to raise the API rate limit")
}

// Network creates a retryable transport error.
func Network(message string, cause error) *DocError {
	return New(ErrCodeFetchNetwork, message, cause)
}

// NotFound creates a non-retryable missing-document error.
func NotFound(path string, cause error) *DocError {
	return New(ErrCodeFetchNotFound, "document not found: "+path, cause).WithDetail("path", path)
}

// EmbedUnavailable creates an embedding backend error.
func EmbedUnavailable(message string, cause error) *DocError {
	return New(ErrCodeEmbedUnavailable, message, cause).
		WithSuggestion("Check the embedding backend or switch embeddings.provider to static")
}

// StoreFailed creates a store error.
func StoreFailed(message string, cause error) *DocError {
	return New(ErrCodeStoreFailed, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IsRetryable reports whether any DocError in the chain is retryable.
func IsRetryable(err error) bool {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first DocError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from the first DocError in the chain.
func GetCategory(err error) Category {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Category
	}
	return ""
}
