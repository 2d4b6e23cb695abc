// Package errors provides structured error handling for the Scopy core.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (sqlite, payload files)
//   - 3XX: Index errors (fuzzy index, snapshot)
//   - 4XX: Query validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates sqlite store and payload file errors.
	CategoryStore Category = "STORE"
	// CategoryIndex indicates fuzzy index and snapshot errors.
	CategoryIndex Category = "INDEX"
	// CategoryQuery indicates query validation errors.
	CategoryQuery Category = "QUERY"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreCorrupted   = "ERR_201_STORE_CORRUPTED"
	ErrCodeMigrationFailed  = "ERR_202_MIGRATION_FAILED"
	ErrCodeStoreReadOnly    = "ERR_203_STORE_READ_ONLY"
	ErrCodeItemNotFound     = "ERR_204_ITEM_NOT_FOUND"
	ErrCodePayloadWrite     = "ERR_205_PAYLOAD_WRITE"
	ErrCodeStoreLocked      = "ERR_206_STORE_LOCKED"

	// Index errors (300-399)
	ErrCodeIndexStale    = "ERR_301_INDEX_STALE"
	ErrCodeIndexRebuild  = "ERR_302_INDEX_REBUILD"
	ErrCodeSnapshotWrite = "ERR_303_SNAPSHOT_WRITE"

	// Query errors (400-499)
	ErrCodeInvalidQuery = "ERR_401_INVALID_QUERY"
	ErrCodeQueryTimeout = "ERR_402_QUERY_TIMEOUT"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_STORE_CORRUPTED".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryIndex
	case '4':
		return CategoryQuery
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupted, ErrCodeMigrationFailed:
		return SeverityFatal
	case ErrCodeIndexStale, ErrCodeSnapshotWrite, ErrCodeQueryTimeout:
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreLocked, ErrCodeQueryTimeout:
		return true
	default:
		return false
	}
}
