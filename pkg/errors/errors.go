// Package errors provides the structured error type shared by every clouddrive component:
// a stable error code, a category, an HTTP status hint and the wrapped cause.
package errors

import (
	stderr "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrorCode identifies the kind of failure independently of its message.
type ErrorCode string

const (
	// Path syntax
	ErrCodeInvalidPath  ErrorCode = "INVALID_PATH"
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// Absence discovered via stat or listing
	ErrCodeResourceNotFound  ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeParentNotFound    ErrorCode = "PARENT_NOT_FOUND"
	ErrCodeDirectoryNotFound ErrorCode = "DIRECTORY_NOT_FOUND"

	// Collisions
	ErrCodeResourceExists ErrorCode = "RESOURCE_ALREADY_EXISTS"
	ErrCodeLockTimeout    ErrorCode = "LOCK_TIMEOUT"

	// Storage and transfer
	ErrCodeStorageOperation ErrorCode = "STORAGE_OPERATION_FAILED"
	ErrCodeDownloadFailed   ErrorCode = "DOWNLOAD_FAILED"

	// Outer surfaces
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes for logging and dashboards.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryExistence     ErrorCategory = "existence"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryStorage       ErrorCategory = "storage"
	CategoryTransfer      ErrorCategory = "transfer"
	CategoryAuth          ErrorCategory = "auth"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// DriveError is a structured error with code, context and cause.
type DriveError struct {
	Code     ErrorCode         `json:"code"`
	Category ErrorCategory     `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
	Cause    error             `json:"-"`

	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *DriveError) Error() string {
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

// Unwrap returns the underlying cause.
func (e *DriveError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DriveError with the same code.
func (e *DriveError) Is(target error) bool {
	if t, ok := target.(*DriveError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *DriveError) String() string {
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
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("DriveError{%s}", strings.Join(parts, ", "))
}

// NewError creates a DriveError with defaults derived from the code.
func NewError(code ErrorCode, message string) *DriveError {
	return &DriveError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Context:    make(map[string]string),
		Timestamp:  time.Now(),
		Retryable:  code == ErrCodeStorageOperation || code == ErrCodeLockTimeout,
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *DriveError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory maps a code to its category.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidPath, ErrCodeInvalidQuery:
		return CategoryValidation
	case ErrCodeResourceNotFound, ErrCodeParentNotFound, ErrCodeDirectoryNotFound:
		return CategoryExistence
	case ErrCodeResourceExists, ErrCodeLockTimeout:
		return CategoryConflict
	case ErrCodeStorageOperation:
		return CategoryStorage
	case ErrCodeDownloadFailed:
		return CategoryTransfer
	case ErrCodeUnauthenticated:
		return CategoryAuth
	case ErrCodeInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// GetDefaultHTTPStatus returns the HTTP status an API layer should answer with.
func GetDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidPath, ErrCodeInvalidQuery, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeResourceNotFound, ErrCodeParentNotFound, ErrCodeDirectoryNotFound:
		return http.StatusNotFound
	case ErrCodeResourceExists, ErrCodeLockTimeout:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds a key/value pair of context.
func (e *DriveError) WithContext(key, value string) *DriveError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component.
func (e *DriveError) WithComponent(component string) *DriveError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *DriveError) WithOperation(operation string) *DriveError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *DriveError) WithCause(cause error) *DriveError {
	e.Cause = cause
	return e
}

// As returns the first DriveError in err's chain.
func As(err error) (*DriveError, bool) {
	var de *DriveError
	if stderr.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf returns the code of the first DriveError in err's chain, or ErrCodeInternalError.
func CodeOf(err error) ErrorCode {
	if de, ok := As(err); ok {
		return de.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// HTTPStatusOf returns the HTTP status carried by err, 500 for foreign errors.
func HTTPStatusOf(err error) int {
	if de, ok := As(err); ok && de.HTTPStatus != 0 {
		return de.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Shorthands for the kinds raised by the filesystem layer.

func InvalidPath(format string, args ...interface{}) *DriveError {
	return Newf(ErrCodeInvalidPath, format, args...)
}

func NotFound(format string, args ...interface{}) *DriveError {
	return Newf(ErrCodeResourceNotFound, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *DriveError {
	return Newf(ErrCodeResourceExists, format, args...)
}

// StorageFailed wraps a store-level failure.
func StorageFailed(cause error, format string, args ...interface{}) *DriveError {
	return Newf(ErrCodeStorageOperation, format, args...).WithCause(cause)
}
