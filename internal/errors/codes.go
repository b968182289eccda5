// Package errors provides structured error handling for docsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and document lifecycle errors
//   - 3XX: Remote backend errors (GitHub, embedding server)
//   - 4XX: Input errors (malformed documents, queries)
//   - 5XX: Pipeline errors (chunking, internal)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index, cache and document lifecycle errors.
	CategoryStorage Category = "STORAGE"
	// CategoryRemote indicates errors from a remote content store or model backend.
	CategoryRemote Category = "REMOTE"
	// CategoryInput indicates malformed documents or queries.
	CategoryInput Category = "INPUT"
	// CategoryPipeline indicates chunking and other internal pipeline errors.
	CategoryPipeline Category = "PIPELINE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	// Storage errors (200-299)
	ErrCodeStoreFailed   = "ERR_201_STORE_FAILED"
	ErrCodeIndexLocked   = "ERR_202_INDEX_LOCKED"
	ErrCodeFetchNotFound = "ERR_203_FETCH_NOT_FOUND"
	ErrCodeCorruptIndex  = "ERR_204_CORRUPT_INDEX"

	// Remote errors (300-399)
	ErrCodeFetchRateLimited  = "ERR_301_FETCH_RATE_LIMITED"
	ErrCodeFetchNetwork      = "ERR_302_FETCH_NETWORK"
	ErrCodeEmbedUnavailable  = "ERR_303_EMBED_UNAVAILABLE"
	ErrCodeFetchUnauthorized = "ERR_304_FETCH_UNAUTHORIZED"

	// Input errors (400-499)
	ErrCodeParseMalformed = "ERR_401_PARSE_MALFORMED"
	ErrCodeQueryEmpty     = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidInput   = "ERR_403_INVALID_INPUT"

	// Pipeline errors (500-599)
	ErrCodeStrategyUnavailable = "ERR_501_CHUNK_STRATEGY_UNAVAILABLE"
	ErrCodeInternal            = "ERR_502_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPipeline
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryRemote
	case '4':
		return CategoryInput
	default:
		return CategoryPipeline
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeParseMalformed, ErrCodeStrategyUnavailable:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// NotFound is deliberately absent: a vanished document is scheduled for deletion.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeFetchRateLimited, ErrCodeFetchNetwork, ErrCodeEmbedUnavailable, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
