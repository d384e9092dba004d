package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Validation errors
	ErrInvalidInputData  = errors.New("invalid input data")
	ErrInvalidParameters = errors.New("invalid training parameters")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInsufficientData  = errors.New("insufficient training data")

	// Training errors
	ErrModelTrainingFailed = errors.New("model training failed")
	ErrModelNotTrained     = errors.New("model has not been trained")
	ErrStageOutOfOrder     = errors.New("training stage out of order")
	ErrPCAFitFailed        = errors.New("PCA fit failed")
	ErrMixtureFitFailed    = errors.New("mixture fit failed")
	ErrTrainingCancelled   = errors.New("training cancelled")

	// Storage errors
	ErrStorageNotFound    = errors.New("storage backend not found")
	ErrStorageWriteFailed = errors.New("storage write failed")
	ErrStorageReadFailed  = errors.New("storage read failed")
	ErrModelNotFound      = errors.New("model not found")

	// Privacy errors
	ErrPrivacyBudgetExceeded = errors.New("privacy budget exceeded")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrConfigurationLoad    = errors.New("failed to load configuration")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeTraining      ErrorType = "training"
	ErrorTypeGeneration    ErrorType = "generation"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypePrivacy       ErrorType = "privacy"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError is the error type returned across package boundaries.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError with the same type and code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext attaches a key/value pair shown in API responses.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError returns an error with the default status for its type.
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError classifies err, keeping it as the cause.
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewTrainingError creates a training error
func NewTrainingError(code, message string) *AppError {
	return NewAppError(ErrorTypeTraining, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewPrivacyError creates a privacy error
func NewPrivacyError(code, message string) *AppError {
	return NewAppError(ErrorTypePrivacy, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// HTTPStatus returns the HTTP status for any error, defaulting to 500
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	switch {
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrInvalidInputData):
		return 400
	case errors.Is(err, ErrModelNotFound):
		return 404
	default:
		return 500
	}
}

func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return 400
	case ErrorTypePrivacy:
		return 403
	case ErrorTypeStorage:
		return 404
	case ErrorTypeConfiguration:
		return 503
	default:
		return 500
	}
}

// ErrorResponse is the JSON body of a failed API request.
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// ValidationErrorDetail describes one invalid field.
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors collects field failures so they can be reported together.
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error joins the field messages.
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	first := ve.Errors[0]
	return fmt.Sprintf("%s: %s %s", ve.Message, first.Field, first.Message)
}

// Unwrap lets errors.Is match ErrInvalidParameters
func (ve *ValidationErrors) Unwrap() error {
	return ErrInvalidParameters
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors reports whether any field failed.
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// NewValidationErrors returns an empty collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Message: "Validation failed",
		Errors:  make([]ValidationErrorDetail, 0),
	}
}

// Error codes
const (
	// Validation error codes
	CodeInvalidInput      = "INVALID_INPUT"
	CodeMissingField      = "MISSING_FIELD"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeDimensionMismatch = "DIMENSION_MISMATCH"

	// Training error codes
	CodeTrainingFailed   = "TRAINING_FAILED"
	CodePCAFailed        = "PCA_FIT_FAILED"
	CodeMixtureFailed    = "MIXTURE_FIT_FAILED"
	CodeModelNotTrained  = "MODEL_NOT_TRAINED"
	CodeInsufficientData = "INSUFFICIENT_DATA"

	// Storage error codes
	CodeStorageError  = "STORAGE_ERROR"
	CodeModelNotFound = "MODEL_NOT_FOUND"
	CodeWriteFailed   = "WRITE_FAILED"
	CodeReadFailed    = "READ_FAILED"

	// Privacy error codes
	CodePrivacyBudgetExceeded = "PRIVACY_BUDGET_EXCEEDED"

	// Configuration error codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
