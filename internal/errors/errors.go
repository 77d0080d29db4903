package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the structured error type returned by the store, index and
// retrieval packages. Callers branch on the code through the Is* helpers.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the CLI user.
	Suggestion string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code so errors.Is works against the
// sentinel values below.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates an AppError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AppError from an existing error, reusing its message.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation        = &AppError{Code: ErrCodeInvalidInput}
	ErrNotFound          = &AppError{Code: ErrCodeNotFound}
	ErrIndexCorrupt      = &AppError{Code: ErrCodeCorruptIndex}
	ErrDimensionMismatch = &AppError{Code: ErrCodeDimensionMismatch}
	ErrTransient         = &AppError{Code: ErrCodeProviderTransient}
	ErrPermanent         = &AppError{Code: ErrCodeProviderPermanent}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError rejects malformed departments, document ids or queries
// before any storage is touched.
func ValidationError(message string, cause error) *AppError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFoundError reports an absent department, document or index.
func NotFoundError(message string, cause error) *AppError {
	return New(ErrCodeNotFound, message, cause)
}

// IndexCorruptError reports a persisted index that cannot be decoded.
func IndexCorruptError(path string, cause error) *AppError {
	return New(ErrCodeCorruptIndex, "vector index is corrupt or truncated", cause).
		WithDetail("path", path).
		WithSuggestion("Run 'aipl rebuild <department>' to recreate the index")
}

// DimensionMismatchError reports vectors whose lengths disagree.
func DimensionMismatchError(expected, got int) *AppError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// TransientProviderError marks an embedding failure that may succeed on retry.
func TransientProviderError(message string, cause error) *AppError {
	return New(ErrCodeProviderTransient, message, cause)
}

// PermanentProviderError marks an embedding failure that retrying cannot fix,
// including exhausted retries.
func PermanentProviderError(message string, cause error) *AppError {
	return New(ErrCodeProviderPermanent, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first AppError in the chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable reports whether any AppError in the chain is retryable.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

func hasCode(err error, codes ...string) bool {
	ae, ok := As(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if ae.Code == c {
			return true
		}
	}
	return false
}

// IsValidation reports a rejected input.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeInvalidInput, ErrCodeQueryEmpty, ErrCodeQueryTooLong,
		ErrCodeInvalidKey, ErrCodeUnsupportedFile)
}

func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound, ErrCodeFileNotFound) }

func IsCorrupt(err error) bool { return hasCode(err, ErrCodeCorruptIndex) }

func IsDimensionMismatch(err error) bool { return hasCode(err, ErrCodeDimensionMismatch) }

func IsTransient(err error) bool { return IsRetryable(err) }

func IsPermanent(err error) bool { return hasCode(err, ErrCodeProviderPermanent) }

// GetCode extracts the error code, or "" for plain errors.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}
