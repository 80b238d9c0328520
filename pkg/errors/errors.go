package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Categories surfaced on risk reports
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeData        ErrorType = "data"
	ErrorTypeSelection   ErrorType = "selection"
	ErrorTypeDataQuality ErrorType = "data_quality"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeProcessing  ErrorType = "processing"

	// Infrastructure categories
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeJob           ErrorType = "job"
	ErrorTypeInternal      ErrorType = "internal"
)

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeEmptyDataset        = "EMPTY_DATASET"
	CodeColumnNotFound      = "COLUMN_NOT_FOUND"
	CodeNonUniqueIdentifier = "NON_UNIQUE_IDENTIFIER"
	CodeDegenerateColumn    = "DEGENERATE_COLUMN"
	CodeNotCategorical      = "NOT_CATEGORICAL"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	CodeUnknownMetric       = "UNKNOWN_METRIC"

	// Selection error codes
	CodeNoColumnsSelected = "NO_COLUMNS_SELECTED"

	// Data error codes
	CodeEmptyAfterCleaning     = "EMPTY_AFTER_CLEANING"
	CodeSensitiveColumnMissing = "SENSITIVE_COLUMN_MISSING"
	CodeReadFailed             = "READ_FAILED"

	// Data quality error codes
	CodeExcessiveMissing = "EXCESSIVE_MISSING"

	// Timeout error codes
	CodeTimeout   = "TIMEOUT"
	CodeCancelled = "CANCELLED"

	// Processing error codes
	CodeDivisionByZero = "DIVISION_BY_ZERO"
	CodeNonFiniteScore = "NON_FINITE_SCORE"
	CodeProcessing     = "PROCESSING_FAILED"

	// Storage error codes
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeNotConnected     = "NOT_CONNECTED"
	CodeCacheMiss        = "CACHE_MISS"
	CodeWriteFailed      = "WRITE_FAILED"

	// Job error codes
	CodeTaskNotFound = "TASK_NOT_FOUND"
	CodeQueueClosed  = "QUEUE_CLOSED"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks; matching is on type and code only.
var (
	ErrEmptyDataset        = NewValidationError(CodeEmptyDataset, "dataset is empty")
	ErrColumnNotFound      = NewValidationError(CodeColumnNotFound, "column not found")
	ErrNonUniqueIdentifier = NewValidationError(CodeNonUniqueIdentifier, "identifier column is not unique")
	ErrDegenerateColumn    = NewValidationError(CodeDegenerateColumn, "column has a single unique value")
	ErrNotCategorical      = NewValidationError(CodeNotCategorical, "column is not categorical")
	ErrNoColumnsSelected   = NewSelectionError(CodeNoColumnsSelected, "no columns selected")
	ErrEmptyAfterCleaning  = NewDataError(CodeEmptyAfterCleaning, "no rows left after dropping missing values")
	ErrSensitiveMissing    = NewDataError(CodeSensitiveColumnMissing, "sensitive column missing")
	ErrExcessiveMissing    = NewDataQualityError(CodeExcessiveMissing, "too many rows removed due to missing values")
	ErrTimeout             = NewTimeoutError(CodeTimeout, "computation timed out")
	ErrDivisionByZero      = NewProcessingError(CodeDivisionByZero, "division by zero")
	ErrTaskNotFound        = NewAppError(ErrorTypeJob, CodeTaskNotFound, "task not found")
	ErrCacheMiss           = NewStorageError(CodeCacheMiss, "cache miss")
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// Label returns the user-facing category name shown on reports.
func (e *AppError) Label() string {
	return Label(e.Type)
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  errType == ErrorTypeStorage,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

func NewSelectionError(code, message string) *AppError {
	return NewAppError(ErrorTypeSelection, code, message)
}

func NewDataError(code, message string) *AppError {
	return NewAppError(ErrorTypeData, code, message)
}

func NewDataQualityError(code, message string) *AppError {
	return NewAppError(ErrorTypeDataQuality, code, message)
}

func NewTimeoutError(code, message string) *AppError {
	return NewAppError(ErrorTypeTimeout, code, message)
}

func NewProcessingError(code, message string) *AppError {
	return NewAppError(ErrorTypeProcessing, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeStorage,
		Code:       code,
		Message:    message,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// AsAppError extracts an *AppError from err. Anything else becomes a
// processing error wrapping the original.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return WrapError(err, ErrorTypeProcessing, CodeProcessing, err.Error())
}

// Label maps an error type to the tag reported to users.
func Label(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "Validation Error"
	case ErrorTypeData:
		return "Data Error"
	case ErrorTypeSelection:
		return "Selection Error"
	case ErrorTypeDataQuality:
		return "Data Quality Error"
	case ErrorTypeTimeout:
		return "Timeout Error"
	default:
		return "Processing Error"
	}
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation, ErrorTypeSelection:
		return http.StatusBadRequest
	case ErrorTypeData, ErrorTypeDataQuality:
		return http.StatusUnprocessableEntity
	case ErrorTypeJob:
		return http.StatusNotFound
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeStorage, ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}
