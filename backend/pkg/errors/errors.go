package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeMemory represents merge/validation errors in the memory engine
	ErrorTypeMemory ErrorType = "memory"
	// ErrorTypeStorage represents record store errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeExtraction represents extraction/LLM errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// base is promoted into every wrapper type that embeds *BaseError so
// IsErrorType can reach the category without knowing the concrete type
func (e *BaseError) base() *BaseError {
	return e
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Memory Errors

// ErrFieldTypeConflict is returned when a proposed update's value kind
// (scalar vs list) does not match the kind the field was first written with.
// The whole batch is aborted.
type ErrFieldTypeConflict struct {
	*BaseError
	Field string
}

func NewFieldTypeConflict(field, detail string) *ErrFieldTypeConflict {
	return &ErrFieldTypeConflict{
		BaseError: NewBaseError(ErrorTypeMemory, fmt.Sprintf("field type conflict on %q: %s", field, detail), nil),
		Field:     field,
	}
}

// ErrConcurrentUpdateConflict is returned when the compare-and-swap retry
// limit is exhausted for a user record.
type ErrConcurrentUpdateConflict struct {
	*BaseError
	UserID   string
	Attempts int
}

func NewConcurrentUpdateConflict(userID string, attempts int) *ErrConcurrentUpdateConflict {
	return &ErrConcurrentUpdateConflict{
		BaseError: NewBaseError(ErrorTypeMemory, fmt.Sprintf("concurrent update conflict for user %s after %d attempts", userID, attempts), nil),
		UserID:    userID,
		Attempts:  attempts,
	}
}

// Storage Errors

// ErrStorageUnavailable is returned when the record store cannot be reached
// or rejects an operation for non-version reasons.
type ErrStorageUnavailable struct {
	*BaseError
	Operation string
}

func NewStorageUnavailable(operation string, err error) *ErrStorageUnavailable {
	return &ErrStorageUnavailable{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage unavailable during %s", operation), err),
		Operation: operation,
	}
}

// ErrRecordNotFound is returned by record stores when no record exists for a user
type ErrRecordNotFound struct {
	*BaseError
	UserID string
}

func NewRecordNotFound(userID string) *ErrRecordNotFound {
	return &ErrRecordNotFound{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("no memory record for user %s", userID), nil),
		UserID:    userID,
	}
}

// ErrVersionMismatch is returned by record stores when a compare-and-swap
// write loses the race against a concurrent writer.
type ErrVersionMismatch struct {
	*BaseError
	UserID          string
	ExpectedVersion int64
}

func NewVersionMismatch(userID string, expected int64) *ErrVersionMismatch {
	return &ErrVersionMismatch{
		BaseError:       NewBaseError(ErrorTypeStorage, fmt.Sprintf("version mismatch for user %s (expected %d)", userID, expected), nil),
		UserID:          userID,
		ExpectedVersion: expected,
	}
}

// Extraction Errors

// ErrExtractionFailed is returned when the extraction LLM call fails or
// returns output that cannot be parsed.
type ErrExtractionFailed struct {
	*BaseError
	Model string
}

func NewExtractionFailed(model string, err error) *ErrExtractionFailed {
	return &ErrExtractionFailed{
		BaseError: NewBaseError(ErrorTypeExtraction, "memory extraction failed", err),
		Model:     model,
	}
}

// Context Errors

// ErrApplyTimeout is returned when the caller-supplied deadline elapses
// before a merge attempt completes. Nothing is persisted.
type ErrApplyTimeout struct {
	*BaseError
	UserID string
}

func NewApplyTimeout(userID string, err error) *ErrApplyTimeout {
	return &ErrApplyTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("apply deadline elapsed for user %s", userID), err),
		UserID:    userID,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error belongs to a category
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if based, ok := err.(interface{ base() *BaseError }); ok {
		return based.base().Type == errType
	}
	// Check wrapped errors
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		if inner := wrapped.Unwrap(); inner != nil {
			return IsErrorType(inner, errType)
		}
	}
	return false
}

// IsRetryable checks if an error is worth retrying at the caller level
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	// A lost CAS race resolves itself; the caller may retry the whole apply
	if _, ok := err.(*ErrConcurrentUpdateConflict); ok {
		return true
	}
	if _, ok := err.(*ErrVersionMismatch); ok {
		return true
	}
	// Storage outages may be transient
	if IsErrorType(err, ErrorTypeStorage) {
		return true
	}
	return false
}
