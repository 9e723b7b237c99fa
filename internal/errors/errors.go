// Package errors provides structured error types for genostore.
// Every error carries a category, a code and a retryable flag so that
// drivers can decide between retry, fail and warn without type switches.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryKey        ErrorCategory = "KEY"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryMerge      ErrorCategory = "MERGE"
	ErrCategoryProjection ErrorCategory = "PROJECTION"
	ErrCategoryLedger     ErrorCategory = "LEDGER"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryDriver     ErrorCategory = "DRIVER"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

const (
	// Validation codes
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInvalidConfig   = "INVALID_CONFIG"

	// Key codes
	CodeKeyDecode = "KEY_DECODE"

	// Archive codes
	CodeCorruptSlice = "CORRUPT_SLICE"
	CodeMissingFile  = "MISSING_FILE"

	// Merge codes. This set is closed: merge and projection never return other codes.
	CodeDuplicateSample   = "DUPLICATE_SAMPLE"
	CodeMissingStudy      = "MISSING_STUDY"
	CodeMissingSample     = "MISSING_SAMPLE"
	CodeRowInconsistency  = "ROW_INCONSISTENCY"

	// Ledger codes
	CodeOperationConflict = "OPERATION_CONFLICT"
	CodeLockTimeout       = "LOCK_TIMEOUT"
	CodeOperationNotFound = "OPERATION_NOT_FOUND"

	// Store and object storage codes
	CodeIOFailed       = "IO_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Driver codes
	CodeTaskFailed = "TASK_FAILED"
	CodeJobTimeout = "JOB_TIMEOUT"
	CodeCancelled  = "CANCELLED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is. Matching is by category and code, so any error
// built with the same pair matches regardless of message or cause.
var (
	ErrKeyDecode         = New(ErrCategoryKey, CodeKeyDecode, "malformed key")
	ErrCorruptSlice      = New(ErrCategoryArchive, CodeCorruptSlice, "malformed slice payload")
	ErrDuplicateSample   = New(ErrCategoryMerge, CodeDuplicateSample, "duplicate sample")
	ErrMissingStudy      = New(ErrCategoryMerge, CodeMissingStudy, "missing study")
	ErrMissingSample     = New(ErrCategoryMerge, CodeMissingSample, "missing sample")
	ErrRowInconsistency  = New(ErrCategoryMerge, CodeRowInconsistency, "row inconsistency")
	ErrOperationConflict = New(ErrCategoryLedger, CodeOperationConflict, "operation conflict")
	ErrLockTimeout       = New(ErrCategoryLedger, CodeLockTimeout, "lock timeout")
	ErrJobTimeout        = New(ErrCategoryDriver, CodeJobTimeout, "job timeout")
	ErrTaskFailed        = New(ErrCategoryDriver, CodeTaskFailed, "task failed")
)

// GenoError is the structured error type used throughout the system.
type GenoError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *GenoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *GenoError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *GenoError) Is(target error) bool {
	var t *GenoError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new GenoError.
func New(category ErrorCategory, code, message string) *GenoError {
	return &GenoError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new GenoError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *GenoError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new GenoError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *GenoError {
	return &GenoError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *GenoError) WithDetails(details map[string]interface{}) *GenoError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ge *GenoError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// IsCorruption reports whether err signals corrupt data or a broken row
// invariant. Such errors abort the task and are never retried.
func IsCorruption(err error) bool {
	switch GetCode(err) {
	case CodeKeyDecode, CodeCorruptSlice, CodeDuplicateSample, CodeRowInconsistency:
		return true
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a GenoError.
func GetCategory(err error) ErrorCategory {
	var ge *GenoError
	if errors.As(err, &ge) {
		return ge.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a GenoError.
func GetCode(err error) string {
	var ge *GenoError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeIOFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *GenoError {
	return New(ErrCategoryValidation, code, message)
}

func NewKeyDecodeError(reason string, key []byte) *GenoError {
	return New(ErrCategoryKey, CodeKeyDecode, reason).
		WithDetails(map[string]interface{}{"key": fmt.Sprintf("%x", key)})
}

func NewCorruptSliceError(message string, cause error) *GenoError {
	return Wrap(ErrCategoryArchive, CodeCorruptSlice, message, cause)
}

func NewMergeError(code, message string) *GenoError {
	return New(ErrCategoryMerge, code, message)
}

func NewLedgerError(code, message string, cause error) *GenoError {
	return Wrap(ErrCategoryLedger, code, message, cause)
}

func NewStoreError(message string, cause error) *GenoError {
	return Wrap(ErrCategoryStore, CodeIOFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *GenoError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewDriverError(code, message string, cause error) *GenoError {
	return Wrap(ErrCategoryDriver, code, message, cause)
}

func NewInternalError(message string, cause error) *GenoError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
