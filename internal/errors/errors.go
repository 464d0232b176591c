package errors

import (
	stderrors "errors"
	"fmt"
)

// IndexError is the structured error type for repoindex.
// It carries enough context to log a failure with its repository and phase.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_201_OBJECT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context such as repo_id or phase.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the failure is transient.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is matches another IndexError by code, so errors.Is works against the
// sentinel values below.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is comparisons. They are built through New so that
// returning one directly carries the retryability of its code.
var (
	ErrObjectNotFound     = New(ErrCodeObjectNotFound, "object not found", nil)
	ErrBackendUnavailable = New(ErrCodeBackendUnavailable, "search backend unavailable", nil)
	ErrBackendRejected    = New(ErrCodeBackendRejected, "search backend rejected the request", nil)
	ErrBadTask            = New(ErrCodeBadTask, "malformed task", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NotFound creates an object-not-found error.
func NotFound(message string, cause error) *IndexError {
	return New(ErrCodeObjectNotFound, message, cause)
}

// BackendError classifies a search backend failure. Rejections are
// fatal for the item, anything else is treated as transient.
func BackendError(message string, rejected bool, cause error) *IndexError {
	if rejected {
		return New(ErrCodeBackendRejected, message, cause)
	}
	return New(ErrCodeBackendUnavailable, message, cause)
}

// CoordinationError creates a coordination-store error.
func CoordinationError(message string, cause error) *IndexError {
	return New(ErrCodeCoordinationUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

func asIndexError(err error) (*IndexError, bool) {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsRetryable reports whether any IndexError in the chain is retryable,
// either by its flag or by its code.
func IsRetryable(err error) bool {
	for err != nil {
		ie, ok := asIndexError(err)
		if !ok {
			return false
		}
		if ie.Retryable || isRetryableCode(ie.Code) {
			return true
		}
		err = ie.Cause
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ie, ok := asIndexError(err); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first IndexError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ie, ok := asIndexError(err); ok {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from the first IndexError in the chain.
func GetCategory(err error) Category {
	if ie, ok := asIndexError(err); ok {
		return ie.Category
	}
	return ""
}
