// Package errors provides structured error handling for repoindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (object store, status store, local index files)
//   - 3XX: Transient network errors (backend, coordination store, object store)
//   - 4XX: Fatal-for-item errors (rejected input, malformed tasks)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates object store and status store errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates transient network errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates rejected input.
	CategoryValidation Category = "VALIDATION"
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

	// Storage errors (200-299)
	ErrCodeObjectNotFound = "ERR_201_OBJECT_NOT_FOUND"
	ErrCodeObjectCorrupt  = "ERR_202_OBJECT_CORRUPT"
	ErrCodeStatusStore    = "ERR_203_STATUS_STORE"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"

	// Network errors (300-399)
	ErrCodeNetworkTimeout          = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable      = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeBackendUnavailable      = "ERR_303_BACKEND_UNAVAILABLE"
	ErrCodeCoordinationUnavailable = "ERR_304_COORDINATION_UNAVAILABLE"
	ErrCodeCircuitOpen             = "ERR_305_CIRCUIT_OPEN"

	// Fatal-for-item errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeBackendRejected = "ERR_402_BACKEND_REJECTED"
	ErrCodeBadTask         = "ERR_403_BAD_TASK"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeDiffFailed  = "ERR_502_DIFF_FAILED"
	ErrCodeIndexFailed = "ERR_503_INDEX_FAILED"
	ErrCodeLeaseFailed = "ERR_504_LEASE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "201" from "ERR_201_OBJECT_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConfigInvalid:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether the next pass can be expected to succeed
// without intervention.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable,
		ErrCodeBackendUnavailable, ErrCodeCoordinationUnavailable, ErrCodeCircuitOpen:
		return true
	default:
		return false
	}
}
