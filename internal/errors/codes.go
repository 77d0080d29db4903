// Package errors provides the structured error taxonomy used across the
// document store and retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (chunk store, index files)
//   - 3XX: Embedding provider errors that may succeed on retry
//   - 4XX: Validation errors
//   - 5XX: Internal and permanent failures
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryProvider   Category = "PROVIDER"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the operation must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeStoreFailed    = "ERR_203_STORE_FAILED"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeCorruptStore   = "ERR_206_CORRUPT_STORE"
	ErrCodeNotFound       = "ERR_207_NOT_FOUND"

	// Provider errors (300-399)
	ErrCodeProviderTransient = "ERR_301_PROVIDER_TRANSIENT"
	ErrCodeProviderTimeout   = "ERR_302_PROVIDER_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_405_QUERY_TOO_LONG"
	ErrCodeInvalidKey        = "ERR_406_INVALID_KEY"
	ErrCodeUnsupportedFile   = "ERR_407_UNSUPPORTED_FILE"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeProviderPermanent = "ERR_502_PROVIDER_PERMANENT"
	ErrCodeIndexFailed       = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_205_..." -> '2'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptStore:
		return SeverityFatal
	case ErrCodeCorruptIndex, ErrCodeNotFound:
		// The caller degrades (rebuild or sentinel) rather than aborting.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTransient, ErrCodeProviderTimeout:
		return true
	default:
		return false
	}
}
