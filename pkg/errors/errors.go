// Package errors provides the structured error system for bucketcache: error
// codes, categories, context and the helpers callers use to branch on them.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for bucketcache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Naming errors
	ErrCodeInvalidName    ErrorCode = "INVALID_NAME"
	ErrCodeInvalidParams  ErrorCode = "INVALID_PARAMS"
	ErrCodeUnknownCommand ErrorCode = "UNKNOWN_COMMAND"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Remote storage errors
	ErrCodeRemoteOperation ErrorCode = "REMOTE_OPERATION_FAILED"
	ErrCodeObjectNotFound  ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound  ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeBucketExists    ErrorCode = "BUCKET_EXISTS"
	ErrCodeBucketNotEmpty  ErrorCode = "BUCKET_NOT_EMPTY"
	ErrCodeAccessDenied    ErrorCode = "ACCESS_DENIED"
	ErrCodeThrottled       ErrorCode = "THROTTLED"

	// Cache errors
	ErrCodeCacheUnavailable   ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeCacheInconsistency ErrorCode = "CACHE_INDEX_INCONSISTENCY"
	ErrCodeCacheConflict      ErrorCode = "CACHE_CONFLICT"
	ErrCodeCacheSerialization ErrorCode = "CACHE_SERIALIZATION"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodePartialFailure    ErrorCode = "PARTIAL_FAILURE"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConnection    ErrorCategory = "connection"
	CategoryRemote        ErrorCategory = "remote"
	CategoryCache         ErrorCategory = "cache"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// BucketCacheError represents a structured error with context and metadata.
type BucketCacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *BucketCacheError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *BucketCacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a BucketCacheError with the same code.
func (e *BucketCacheError) Is(target error) bool {
	if other, ok := target.(*BucketCacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *BucketCacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
		}
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("BucketCacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with the defaults for its code.
func NewError(code ErrorCode, message string) *BucketCacheError {
	return &BucketCacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *BucketCacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeInvalidName, ErrCodeInvalidParams, ErrCodeUnknownCommand:
		return CategoryValidation
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError:
		return CategoryConnection
	case ErrCodeRemoteOperation, ErrCodeObjectNotFound, ErrCodeBucketNotFound, ErrCodeBucketExists,
		ErrCodeBucketNotEmpty, ErrCodeAccessDenied, ErrCodeThrottled:
		return CategoryRemote
	case ErrCodeCacheUnavailable, ErrCodeCacheInconsistency, ErrCodeCacheConflict, ErrCodeCacheSerialization:
		return CategoryCache
	case ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodePartialFailure, ErrCodeRetryExhausted:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError,
		ErrCodeOperationTimeout, ErrCodeThrottled, ErrCodeCacheConflict:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeInvalidName, ErrCodeInvalidParams,
		ErrCodeUnknownCommand:
		return 400
	case ErrCodeAccessDenied:
		return 403
	case ErrCodeObjectNotFound, ErrCodeBucketNotFound:
		return 404
	case ErrCodeBucketExists, ErrCodeBucketNotEmpty, ErrCodeCacheConflict:
		return 409
	case ErrCodeThrottled:
		return 429
	case ErrCodeRemoteOperation, ErrCodeConnectionFailed, ErrCodeNetworkError:
		return 502
	case ErrCodeCacheUnavailable:
		return 503
	case ErrCodeOperationTimeout, ErrCodeConnectionTimeout:
		return 504
	}
	return 500
}

// WithContext adds contextual information to an error.
func (e *BucketCacheError) WithContext(key, value string) *BucketCacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *BucketCacheError) WithDetail(key string, value interface{}) *BucketCacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *BucketCacheError) WithComponent(component string) *BucketCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *BucketCacheError) WithOperation(operation string) *BucketCacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *BucketCacheError) WithCause(cause error) *BucketCacheError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry hint.
func (e *BucketCacheError) WithRetryable(retryable bool) *BucketCacheError {
	e.Retryable = retryable
	return e
}

// Wrap wraps err in a BucketCacheError unless it already is one.
func Wrap(err error, code ErrorCode, message string) *BucketCacheError {
	if err == nil {
		return nil
	}
	var bce *BucketCacheError
	if stderrors.As(err, &bce) {
		return bce
	}
	return NewError(code, message).WithCause(err)
}

// CodeOf returns the code of the first BucketCacheError in err's chain, or
// the empty code.
func CodeOf(err error) ErrorCode {
	var bce *BucketCacheError
	if stderrors.As(err, &bce) {
		return bce.Code
	}
	return ""
}

// HasCode reports whether any BucketCacheError in err's chain has code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &BucketCacheError{Code: code})
}

// IsCacheUnavailable reports whether err means the cache backend could not be
// reached, as opposed to a key being absent.
func IsCacheUnavailable(err error) bool {
	return HasCode(err, ErrCodeCacheUnavailable)
}

// IsInvalidName reports whether err is a name validation failure.
func IsInvalidName(err error) bool {
	return HasCode(err, ErrCodeInvalidName)
}

// IsNotFound reports whether err is an object or bucket not-found error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound) || HasCode(err, ErrCodeBucketNotFound)
}

// IsRetryable reports whether err carries a retryable hint.
func IsRetryable(err error) bool {
	var bce *BucketCacheError
	if stderrors.As(err, &bce) {
		return bce.Retryable
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
